package mailer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records sends and can fail selected recipients.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentMail
	failFor map[string]error
}

type sentMail struct {
	to      string
	subject string
	html    string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failFor: make(map[string]error)}
}

func (f *fakeTransport) Send(ctx context.Context, to, from, subject, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to]; ok {
		return err
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject, html: html})
	return nil
}

// fakeTemplateRepo serves a single template or an error.
type fakeTemplateRepo struct {
	tmpl *model.Template
	err  error
}

func (f *fakeTemplateRepo) Get(ctx context.Context, id int64) (*model.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tmpl, nil
}

// fakeLogRepo keeps delivery logs in memory.
type fakeLogRepo struct {
	mu     sync.Mutex
	nextID int64
	logs   map[int64]*model.DeliveryLog
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{logs: make(map[int64]*model.DeliveryLog)}
}

func (f *fakeLogRepo) Create(ctx context.Context, l *model.DeliveryLog) (*model.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *l
	stored.ID = f.nextID
	f.logs[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeLogRepo) MarkSent(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[id]
	if !ok {
		return errors.New("log not found")
	}
	now := time.Now()
	l.Status = model.DeliveryStatusSent
	l.SentAt = &now
	return nil
}

func (f *fakeLogRepo) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.logs[id]
	if !ok {
		return errors.New("log not found")
	}
	now := time.Now()
	l.Status = model.DeliveryStatusFailed
	l.Error = errMsg
	l.FailedAt = &now
	return nil
}

func (f *fakeLogRepo) byStatus(status model.DeliveryStatus) []*model.DeliveryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DeliveryLog
	for _, l := range f.logs {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out
}

func testTemplate() *model.Template {
	return &model.Template{
		ID:          9,
		Name:        "welcome",
		HTMLContent: `<html><body><h1>Hello {{.name}}</h1><a href="https://shop.example.com/sale">Sale</a></body></html>`,
	}
}

func batchRecipients(n int) []model.BatchRecipient {
	recipients := make([]model.BatchRecipient, 0, n)
	names := []string{"Alice", "Bob", "Carol", "Dave", "Eve"}
	for i := 0; i < n; i++ {
		name := names[i%len(names)]
		recipients = append(recipients, model.BatchRecipient{
			Email:     name + "@example.com",
			Name:      name,
			Variables: map[string]interface{}{"name": name},
		})
	}
	return recipients
}

func TestMailer_DeliverBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers full batch and logs each send", func(t *testing.T) {
		transport := newFakeTransport()
		logs := newFakeLogRepo()
		m := NewMailer(transport, &fakeTemplateRepo{tmpl: testTemplate()}, logs, Config{From: "noreply@example.com"})

		result := m.DeliverBatch(ctx, batchRecipients(3), "Welcome", 9, 42)

		assert.True(t, result.Success)
		assert.Equal(t, 3, result.Sent)
		assert.Equal(t, 0, result.Failed)
		assert.Equal(t, 3, result.Total)

		require.Len(t, transport.sent, 3)
		assert.Contains(t, transport.sent[0].html, "Hello Alice")
		assert.Len(t, logs.byStatus(model.DeliveryStatusSent), 3)
	})

	t.Run("missing template fails every recipient without raising", func(t *testing.T) {
		transport := newFakeTransport()
		logs := newFakeLogRepo()
		m := NewMailer(transport, &fakeTemplateRepo{err: ErrTemplateNotFound}, logs, Config{From: "noreply@example.com"})

		result := m.DeliverBatch(ctx, batchRecipients(4), "Welcome", 9, 42)

		assert.False(t, result.Success)
		assert.Equal(t, 0, result.Sent)
		assert.Equal(t, 4, result.Failed)
		assert.Empty(t, transport.sent)

		failed := logs.byStatus(model.DeliveryStatusFailed)
		require.Len(t, failed, 4)
		for _, l := range failed {
			assert.Equal(t, "Template not found", l.Error)
		}
	})

	t.Run("one transport failure does not abort the batch", func(t *testing.T) {
		transport := newFakeTransport()
		transport.failFor["Bob@example.com"] = errors.New("450 mailbox busy")
		logs := newFakeLogRepo()
		m := NewMailer(transport, &fakeTemplateRepo{tmpl: testTemplate()}, logs, Config{From: "noreply@example.com"})

		result := m.DeliverBatch(ctx, batchRecipients(3), "Welcome", 9, 42)

		assert.False(t, result.Success)
		assert.Equal(t, 2, result.Sent)
		assert.Equal(t, 1, result.Failed)

		failed := logs.byStatus(model.DeliveryStatusFailed)
		require.Len(t, failed, 1)
		assert.Equal(t, "Bob@example.com", failed[0].ToEmail)
		assert.Contains(t, failed[0].Error, "mailbox busy")
	})

	t.Run("unparsable template fails the recipient", func(t *testing.T) {
		transport := newFakeTransport()
		logs := newFakeLogRepo()
		broken := &model.Template{ID: 9, HTMLContent: "{{.name"}
		m := NewMailer(transport, &fakeTemplateRepo{tmpl: broken}, logs, Config{From: "noreply@example.com"})

		result := m.DeliverBatch(ctx, batchRecipients(1), "Welcome", 9, 42)

		assert.Equal(t, 0, result.Sent)
		assert.Equal(t, 1, result.Failed)
		assert.Empty(t, transport.sent)
		assert.Len(t, logs.byStatus(model.DeliveryStatusFailed), 1)
	})

	t.Run("tracking rewrites links and injects pixel", func(t *testing.T) {
		transport := newFakeTransport()
		logs := newFakeLogRepo()
		m := NewMailer(transport, &fakeTemplateRepo{tmpl: testTemplate()}, logs, Config{
			From:            "noreply@example.com",
			TrackingEnabled: true,
			TrackingBaseURL: "https://track.example.com",
		})

		result := m.DeliverBatch(ctx, batchRecipients(1), "Welcome", 9, 42)
		require.Equal(t, 1, result.Sent)

		require.Len(t, transport.sent, 1)
		html := transport.sent[0].html
		assert.NotContains(t, html, "shop.example.com")
		assert.Contains(t, html, "https://track.example.com/t/c/")
		assert.Contains(t, html, "https://track.example.com/t/o/")

		sent := logs.byStatus(model.DeliveryStatusSent)
		require.Len(t, sent, 1)
		assert.NotEmpty(t, sent[0].TrackingID)
		require.Len(t, sent[0].TrackedLinks, 1)
		assert.Equal(t, "https://shop.example.com/sale", sent[0].TrackedLinks[0].URL)
	})

	t.Run("cancellation stops the batch with partial counts", func(t *testing.T) {
		transport := newFakeTransport()
		logs := newFakeLogRepo()
		m := NewMailer(transport, &fakeTemplateRepo{tmpl: testTemplate()}, logs, Config{
			From:      "noreply@example.com",
			SendDelay: 50 * time.Millisecond,
		})

		cancelCtx, cancel := context.WithCancel(ctx)
		time.AfterFunc(25*time.Millisecond, cancel)

		result := m.DeliverBatch(cancelCtx, batchRecipients(5), "Welcome", 9, 42)

		// The first recipient goes out before the first pacing delay;
		// cancellation lands during pacing and stops the rest.
		assert.GreaterOrEqual(t, result.Sent, 1)
		assert.Equal(t, 5, result.Total)
		assert.Less(t, result.Sent+result.Failed, result.Total)
	})

	t.Run("empty batch succeeds trivially", func(t *testing.T) {
		m := NewMailer(newFakeTransport(), &fakeTemplateRepo{tmpl: testTemplate()}, newFakeLogRepo(), Config{From: "noreply@example.com"})

		result := m.DeliverBatch(ctx, nil, "Welcome", 9, 42)

		assert.True(t, result.Success)
		assert.Equal(t, 0, result.Total)
	})
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("to@example.com", "from@example.com", "Hi there", "<p>body</p>"))

	assert.Contains(t, msg, "From: from@example.com\r\n")
	assert.Contains(t, msg, "To: to@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hi there\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=utf-8\r\n")
	assert.Contains(t, msg, "<p>body</p>")
}
