package multipart

import (
	"context"
	"fmt"
	"sync"

	"github.com/bitrise-io/go-coldstorage/treehash"
)

type fakeService struct {
	mu sync.Mutex

	sessionID   string
	initiateErr error
	// uploadPart overrides the default part handler. call is the 1 based attempt count for the range.
	uploadPart func(ctx context.Context, req PartRequest, call int) (PartReceipt, error)
	complete   func(req CompleteRequest) (Completion, error)
	abortErr   error

	initiateRequests []InitiateRequest
	partRequests     []PartRequest
	completeRequests []CompleteRequest
	abortedSessions  []string
	callsByRange     map[ByteRange]int
}

func newFakeService() *fakeService {
	return &fakeService{
		sessionID:    "session-1",
		callsByRange: map[ByteRange]int{},
	}
}

func (s *fakeService) Initiate(_ context.Context, req InitiateRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initiateRequests = append(s.initiateRequests, req)
	if s.initiateErr != nil {
		return "", s.initiateErr
	}
	return s.sessionID, nil
}

func (s *fakeService) UploadPart(ctx context.Context, req PartRequest) (PartReceipt, error) {
	s.mu.Lock()
	recorded := req
	recorded.Body = append([]byte(nil), req.Body...)
	s.partRequests = append(s.partRequests, recorded)
	s.callsByRange[req.Range]++
	call := s.callsByRange[req.Range]
	handler := s.uploadPart
	s.mu.Unlock()

	if handler != nil {
		return handler(ctx, req, call)
	}
	return PartReceipt{Checksum: treehash.Sum(req.Body).String()}, nil
}

func (s *fakeService) Complete(_ context.Context, req CompleteRequest) (Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completeRequests = append(s.completeRequests, req)
	if s.complete != nil {
		return s.complete(req)
	}
	return Completion{
		ArchiveID: "archive-1",
		Checksum:  req.RootChecksum.String(),
		Location:  fmt.Sprintf("/-/vaults/%s/archives/archive-1", req.Vault),
	}, nil
}

func (s *fakeService) Abort(_ context.Context, _, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abortedSessions = append(s.abortedSessions, sessionID)
	return s.abortErr
}

func (s *fakeService) requestsFor(r ByteRange) []PartRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reqs []PartRequest
	for _, req := range s.partRequests {
		if req.Range == r {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

type recordingReporter struct {
	mu         sync.Mutex
	dispatched []int
	completed  []int
}

func (r *recordingReporter) PartDispatched(part Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatched = append(r.dispatched, part.Index)
}

func (r *recordingReporter) PartCompleted(part Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, part.Index)
}

type panickingReporter struct{}

func (panickingReporter) PartDispatched(Part) { panic("dispatched") }
func (panickingReporter) PartCompleted(Part)  { panic("completed") }
