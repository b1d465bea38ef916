package archiver

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/bitrise-io/go-coldstorage/export"
	"github.com/bitrise-io/go-coldstorage/internal"
	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/network"
	"github.com/bitrise-io/go-coldstorage/treehash"
)

// memoryVault stores parts in memory and answers Complete with the tree hash of the assembled archive.
type memoryVault struct {
	mu sync.Mutex

	partErr  error
	initiate []multipart.InitiateRequest
	parts    map[int64][]byte
	aborted  []string
	archive  []byte
}

func newMemoryVault() *memoryVault {
	return &memoryVault{parts: map[int64][]byte{}}
}

func (v *memoryVault) Initiate(_ context.Context, req multipart.InitiateRequest) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.initiate = append(v.initiate, req)
	return "session-1", nil
}

func (v *memoryVault) UploadPart(_ context.Context, req multipart.PartRequest) (multipart.PartReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.partErr != nil {
		return multipart.PartReceipt{}, v.partErr
	}
	v.parts[req.Range.Start] = append([]byte(nil), req.Body...)
	return multipart.PartReceipt{Checksum: treehash.Sum(req.Body).String()}, nil
}

func (v *memoryVault) Complete(_ context.Context, req multipart.CompleteRequest) (multipart.Completion, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	offsets := make([]int64, 0, len(v.parts))
	for offset := range v.parts {
		offsets = append(offsets, offset)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	var archive []byte
	for _, offset := range offsets {
		archive = append(archive, v.parts[offset]...)
	}
	if int64(len(archive)) != req.TotalLength {
		return multipart.Completion{}, errors.New("archive size mismatch")
	}
	v.archive = archive

	return multipart.Completion{
		ArchiveID: "archive-1",
		Checksum:  treehash.Sum(archive).String(),
		Location:  "/-/vaults/" + req.Vault + "/archives/archive-1",
	}, nil
}

func (v *memoryVault) Abort(_ context.Context, _, sessionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.aborted = append(v.aborted, sessionID)
	return nil
}

type recordingExporter struct {
	outputs []export.Output
	files   map[string]string
	err     error
}

func (e *recordingExporter) ExportOutputs(outputs []export.Output) error {
	if e.err != nil {
		return e.err
	}
	e.outputs = append(e.outputs, outputs...)
	return nil
}

func (e *recordingExporter) ExportOutputFileContent(content []byte, dst, envKey string) error {
	if e.err != nil {
		return e.err
	}
	if e.files == nil {
		e.files = map[string]string{}
	}
	e.files[envKey] = dst
	return os.WriteFile(dst, content, 0644)
}

func (e *recordingExporter) value(key string) (string, bool) {
	for _, o := range e.outputs {
		if o.Key == key {
			return o.Value, true
		}
	}
	return "", false
}

type recordingNotifier struct {
	mu       sync.Mutex
	err      error
	receipts []network.Receipt
}

func (n *recordingNotifier) Notify(_ context.Context, receipt network.Receipt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, receipt)
	return n.err
}

// garbageBundler writes a file that is not a tar+zstd archive.
type garbageBundler struct{}

func (garbageBundler) Compress(archivePath, _ string, _ []string) error {
	return os.WriteFile(archivePath, []byte("definitely not zstd"), 0644)
}

type staticChecker bool

func (c staticChecker) CheckDependencies() bool {
	return bool(c)
}

// failingReadOS behaves like the real file system except that reads fail.
type failingReadOS struct {
	internal.RealOS
}

func (failingReadOS) ReadFile(string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

// trackingOS records temp directories created by the runner.
type trackingOS struct {
	internal.RealOS
	tempDirs []string
}

func (o *trackingOS) MkdirTemp(dir, pattern string) (string, error) {
	pth, err := o.RealOS.MkdirTemp(dir, pattern)
	o.tempDirs = append(o.tempDirs, pth)
	return pth, err
}
