package memory

import "sync"

// lockTable 每個資源鍵一把 RWMutex，沒人使用時移除
// 交易單位拿寫鎖 (依排序後的順序)，顯示用讀取拿讀鎖
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*keyLock)}
}

func (t *lockTable) ref(key string) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &keyLock{}
		t.locks[key] = l
	}
	l.refs++
	return l
}

func (t *lockTable) unref(key string, l *keyLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, key)
	}
}

// lockAll 依傳入順序取得寫鎖，keys 必須已排序
// 回傳的 unlock 以相反順序釋放
func (t *lockTable) lockAll(keys []string) (unlock func()) {
	held := make([]*keyLock, 0, len(keys))
	for _, k := range keys {
		l := t.ref(k)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
			t.unref(keys[i], held[i])
		}
	}
}

func (t *lockTable) rlock(key string) (unlock func()) {
	l := t.ref(key)
	l.RLock()
	return func() {
		l.RUnlock()
		t.unref(key, l)
	}
}

// size 目前被引用的鍵數，測試用
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
