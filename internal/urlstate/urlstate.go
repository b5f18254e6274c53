package urlstate

import (
	"net/url"
	"os"
	"sync"
)

// FileState хранит параметры строки запроса экрана в файле,
// чтобы перезапуск клиента восстанавливал контекст —
// аналог адресной строки браузера.
type FileState struct {
	path string

	mu     sync.Mutex
	values url.Values
}

// NewFileState создает новый экземпляр FileState,
// загружая сохраненное состояние, если оно есть
func NewFileState(path string) *FileState {
	state := &FileState{path: path, values: url.Values{}}

	data, err := os.ReadFile(path)
	if err != nil {
		return state
	}

	values, err := url.ParseQuery(string(data))
	if err != nil {
		return state
	}

	state.values = values
	return state
}

// Get возвращает значение параметра
func (s *FileState) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Get(key)
}

// Set устанавливает значение параметра и сохраняет состояние
func (s *FileState) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values.Set(key, value)
	_ = os.WriteFile(s.path, []byte(s.values.Encode()), 0o644)
}

// MemoryState хранит параметры строки запроса в памяти (для тестов)
type MemoryState struct {
	mu     sync.Mutex
	values url.Values
}

// NewMemoryState создает новый экземпляр MemoryState
func NewMemoryState() *MemoryState {
	return &MemoryState{values: url.Values{}}
}

// Get возвращает значение параметра
func (s *MemoryState) Get(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Get(key)
}

// Set устанавливает значение параметра
func (s *MemoryState) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Set(key, value)
}
