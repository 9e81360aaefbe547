package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/nhle/mailgateway/internal/model"
	"github.com/nhle/mailgateway/internal/source"
)

// fakeSource serves canned pages keyed by cursor; the first page uses the
// empty cursor.
type fakeSource struct {
	mu gosync.Mutex

	pages   map[string]*source.Page
	listErr error
	nextErr map[string]error

	details     map[string]*model.MessageDetail
	detailErr   error
	attachments map[string][]model.AttachmentInfo

	listCalls   []string
	detailCalls []string
	attCalls    []string
	since       time.Time

	// When set, ListMessages signals entered and then waits for release.
	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:       map[string]*source.Page{},
		nextErr:     map[string]error{},
		details:     map[string]*model.MessageDetail{},
		attachments: map[string][]model.AttachmentInfo{},
	}
}

func (f *fakeSource) TestConnection(context.Context) (string, error) {
	return "Fake Inbox", nil
}

func (f *fakeSource) Send(context.Context, model.OutgoingMessage) error {
	return nil
}

func (f *fakeSource) ListMessages(ctx context.Context, since time.Time, pageSize int) (*source.Page, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, "")
	f.since = since
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page(""), nil
}

func (f *fakeSource) NextPage(ctx context.Context, cursor string) (*source.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, cursor)
	if err := f.nextErr[cursor]; err != nil {
		return nil, err
	}
	p, ok := f.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("unknown cursor %q", cursor)
	}
	return p, nil
}

func (f *fakeSource) page(cursor string) *source.Page {
	if p, ok := f.pages[cursor]; ok {
		return p
	}
	return &source.Page{}
}

func (f *fakeSource) GetDetail(ctx context.Context, id string) (*model.MessageDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, id)
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return &model.MessageDetail{Body: "body of " + id, BodyType: model.BodyTypeText}, nil
}

func (f *fakeSource) GetAttachments(ctx context.Context, id string) ([]model.AttachmentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attCalls = append(f.attCalls, id)
	return f.attachments[id], nil
}

func (f *fakeSource) GetAttachmentContent(ctx context.Context, msgID, attID string) (*model.AttachmentContent, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeSource) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.listCalls...)
}

func (f *fakeSource) detailRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.detailCalls...)
}

func (f *fakeSource) attachmentRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attCalls...)
}
