package mysql

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	xerrors "Rivalz-Swarm/internal/errors"
)

// TranscriptFile 是文件仓库在数据目录中使用的文件名。
const TranscriptFile = "transcripts.log"

// FileTranscriptRepository 以 JSON Lines 追加写本地文件，并在内存中按会话索引。
type FileTranscriptRepository struct {
	mu       sync.RWMutex
	dataFile string
	openLog  func() (io.WriteCloser, error)
	sessions map[string][]TranscriptRecord
	seen     map[string]map[int]struct{}
}

// NewFileTranscriptRepository 创建文件仓库并加载已有记录。
func NewFileTranscriptRepository(dataDir string) (*FileTranscriptRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &FileTranscriptRepository{
		dataFile: filepath.Join(dataDir, TranscriptFile),
		sessions: make(map[string][]TranscriptRecord),
		seen:     make(map[string]map[int]struct{}),
	}
	repo.openLog = func() (io.WriteCloser, error) {
		return os.OpenFile(repo.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Append 实现 TranscriptRepository。记录在落盘成功后才进入索引，失败的批次可以原样重试。
func (f *FileTranscriptRepository) Append(_ context.Context, records []TranscriptRecord) error {
	if len(records) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	pending := make([]TranscriptRecord, 0, len(records))
	batch := make(map[string]map[int]struct{})
	for _, record := range records {
		if f.has(record.SessionID, record.Seq) {
			continue
		}
		if _, dup := batch[record.SessionID][record.Seq]; dup {
			continue
		}
		if batch[record.SessionID] == nil {
			batch[record.SessionID] = make(map[int]struct{})
		}
		batch[record.SessionID][record.Seq] = struct{}{}
		pending = append(pending, record)
	}
	if len(pending) == 0 {
		return nil
	}

	file, err := f.openLog()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开会话日志失败")
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range pending {
		encoded, err := json.Marshal(record)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化会话记录失败")
		}
		if _, err := writer.Write(append(encoded, '\n')); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话日志失败")
		}
	}
	if err := writer.Flush(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入会话日志失败")
	}
	for _, record := range pending {
		f.index(record)
	}
	return nil
}

// NextSeq 实现 TranscriptRepository。
func (f *FileTranscriptRepository) NextSeq(_ context.Context, sessionID string) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	records := f.sessions[sessionID]
	if len(records) == 0 {
		return 0, nil
	}
	return records[len(records)-1].Seq + 1, nil
}

// ListSession 实现 TranscriptRepository。
func (f *FileTranscriptRepository) ListSession(_ context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	records := f.sessions[sessionID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]TranscriptRecord, limit)
	copy(out, records[:limit])
	return out, nil
}

// Close 对文件仓库无需操作。
func (f *FileTranscriptRepository) Close() error { return nil }

func (f *FileTranscriptRepository) has(sessionID string, seq int) bool {
	_, ok := f.seen[sessionID][seq]
	return ok
}

// index 记录一条消息，重复的 (SessionID, Seq) 返回 false。调用方需持有写锁。
func (f *FileTranscriptRepository) index(record TranscriptRecord) bool {
	seqs, ok := f.seen[record.SessionID]
	if !ok {
		seqs = make(map[int]struct{})
		f.seen[record.SessionID] = seqs
	}
	if _, dup := seqs[record.Seq]; dup {
		return false
	}
	seqs[record.Seq] = struct{}{}
	list := append(f.sessions[record.SessionID], record)
	if n := len(list); n > 1 && list[n-2].Seq > record.Seq {
		sortBySeq(list)
	}
	f.sessions[record.SessionID] = list
	return true
}

func (f *FileTranscriptRepository) loadFromDisk() error {
	file, err := os.OpenFile(f.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var record TranscriptRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		f.index(record)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析会话日志失败")
	}
	return nil
}

var _ TranscriptRepository = (*FileTranscriptRepository)(nil)
