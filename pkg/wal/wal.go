package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

// 自己定義常用的權限常量
const (
	// rw-r--r-- (擁有者讀寫，其他人唯讀) - 適用於大多數檔案
	FileModeReadOnly fs.FileMode = 0644

	// rw------- (只有擁有者可讀寫) - 適用於私鑰、機密檔
	FileModePrivate fs.FileMode = 0600
)

// ErrBroken 寫入失敗後無法把檔案還原到寫入前的長度，之後的寫入一律拒絕
var ErrBroken = errors.New("wal is broken")

// WAL 是一個 JSON Lines 格式的 Write-Ahead Log
// 每一行是一筆已提交的單位 (unit of work)，重啟時依序重放
// Write 回傳錯誤時，該筆資料不會留在檔案裡
type WAL struct {
	file *os.File
	mu   sync.Mutex
	// noSync 為 true 時不做 fsync (測試或可接受遺失最後幾筆的環境)
	noSync bool
	sync   func(*os.File) error
	broken error
}

// Option 設定 WAL 行為
type Option func(*WAL)

// WithoutSync 關閉每筆寫入後的 fsync
func WithoutSync() Option {
	return func(w *WAL) {
		w.noSync = true
	}
}

// WithSyncFunc 替換 fsync 的實作，用來模擬磁碟錯誤
func WithSyncFunc(fn func(*os.File) error) Option {
	return func(w *WAL) {
		w.sync = fn
	}
}

// Open 開啟或建立一個 WAL 檔案
// O_RDWR讀寫模式
// O_APPEND 每次寫入時自動跳到文件末尾
// O_CREATE 如果文件不存在則建立
func Open(path string, opts ...Option) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, FileModePrivate)
	if err != nil {
		return nil, err
	}
	w := &WAL{file: file, sync: (*os.File).Sync}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write 寫入一筆資料並刷入硬碟
//
// 寫入或 fsync 失敗時把檔案截回寫入前的長度，呼叫端 rollback 的資料不會在重啟後被重放。
// 截不回去時 WAL 進入 broken 狀態，後續 Write 都回傳 ErrBroken。
func (w *WAL) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken != nil {
		return fmt.Errorf("%w: %v", ErrBroken, w.broken)
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	// O_APPEND: 目前檔案長度就是這筆的起點
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	offset := info.Size()

	if _, err := w.file.Write(line); err != nil {
		return w.rewind(offset, err)
	}
	if w.noSync {
		return nil
	}
	if err := w.sync(w.file); err != nil {
		return w.rewind(offset, err)
	}
	return nil
}

// rewind 丟掉寫到一半或沒刷進硬碟的資料
func (w *WAL) rewind(offset int64, cause error) error {
	err := w.file.Truncate(offset)
	if err == nil && !w.noSync {
		err = w.sync(w.file)
	}
	if err != nil {
		w.broken = errors.Join(cause, err)
		return fmt.Errorf("%w: %v", ErrBroken, w.broken)
	}
	return cause
}

// Sync 強制刷入硬碟
func (w *WAL) Sync() error {
	return w.sync(w.file)
}

// Close 關閉檔案
func (w *WAL) Close() error {
	return w.file.Close()
}

// ReadAll 從頭讀取所有資料，每筆交給 callback
//
// 最後一行若是寫到一半就掛掉的殘缺資料 (torn write)，會被截掉，
// 之後的 Write 會接在最後一筆完整資料後面。
//
// 參數:
//
//	callback: 接收一筆 JSON 原始資料，回傳錯誤會中止讀取
//
// 回傳:
//
//	error: 讀取或 callback 錯誤
func (w *WAL) ReadAll(callback func(jsonRaw []byte) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// 確保從頭讀取
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	decoder := json.NewDecoder(w.file)
	var lastGood int64
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.file.Truncate(lastGood)
			}
			return err
		}
		if err := callback(raw); err != nil {
			return err
		}
		lastGood = decoder.InputOffset()
	}
}
