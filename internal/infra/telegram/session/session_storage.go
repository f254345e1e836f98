package session

// Пакет session содержит обёртку поверх tdsession.Storage для MTProto-сессий
// отдельного аккаунта. Цели:
//   - атомарная запись файла сессии на диск (без частичных состояний);
//   - опциональное уведомление вызывающего воркера о готовности/восстановлении сессии;
//   - потокобезопасный доступ к файловой системе при конкурирующих вызовах.
// Путь файла сессии — data/sessions/<phone-digits>.session (см. §4.6); он создаётся
// при зачислении аккаунта и удаляется при его удалении администратором.

import (
	"context"
	"fmt"
	"os"
	"sync"

	"telegram-forwarder/internal/infra/storage"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"
)

// FileStorage реализует tdsession.Storage поверх обычного файла. OnStore, если
// задан, вызывается после каждой успешной записи сессии — им пользуется worker
// (§4.4), чтобы перевести свой connection.Monitor в online при подтверждённом
// логине, не завязываясь на глобальное состояние процесса.
type FileStorage struct {
	Path    string
	OnStore func()

	mux sync.Mutex
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск и, если задан OnStore,
// уведомляет вызывающего о том, что сессия актуальна.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}

	f.mux.Lock()
	onStore := f.OnStore
	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		f.mux.Unlock()
		return fmt.Errorf("atomic write session: %w", err)
	}
	f.mux.Unlock()

	if onStore != nil {
		onStore()
	}
	return nil
}
