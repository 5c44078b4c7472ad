package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brightsend/campaign-dispatcher/internal/repository"
	"github.com/brightsend/campaign-dispatcher/pkg/pg"
	"github.com/brightsend/campaign-dispatcher/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.CampaignEntity{},
		&repository.CampaignBatchEntity{},
		&repository.TemplateEntity{},
		&repository.DeliveryLogEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Unique connection name per test to avoid global adapter caching
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestTemplate(t *testing.T, db *pg.DB, name, html string) *repository.TemplateEntity {
	ctx := context.Background()
	tmpl := &repository.TemplateEntity{
		Name:        name,
		HTMLContent: html,
		CreatedAt:   time.Now(),
	}
	err := db.Write(ctx).Create(tmpl).Error
	require.NoError(t, err)
	return tmpl
}

func CreateTestCampaign(t *testing.T, db *pg.DB, templateID int64, status string, segmentIDs []string) *repository.CampaignEntity {
	ctx := context.Background()
	c := &repository.CampaignEntity{
		Name:       "Test Campaign",
		Subject:    "Hello {{.name}}",
		TemplateID: templateID,
		SegmentIDs: segmentIDs,
		Operator:   "AND",
		Status:     status,
		CreatedAt:  time.Now(),
	}
	err := db.Write(ctx).Create(c).Error
	require.NoError(t, err)
	return c
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
