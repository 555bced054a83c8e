package whatsapp

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"

	"wabridge/pkg/config"
	"wabridge/pkg/session"
)

const sqliteDriver = "sqlite"

var errNoDevice = errors.New("credentials carry no whatsapp device")

// DeviceStore persists the linked-device identity in a SQLite file through
// whatsmeow's sqlstore.
type DeviceStore struct {
	container *sqlstore.Container
}

// OpenDeviceStore opens (creating if needed) the SQLite credential database
// at path.
func OpenDeviceStore(ctx context.Context, path string, log waLog.Logger) (*DeviceStore, error) {
	if err := config.EnsureDir(path); err != nil {
		return nil, err
	}
	if log == nil {
		log = waLog.Noop
	}

	container, err := sqlstore.New(ctx, sqliteDriver, dsn(path), log)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store %s: %w", path, err)
	}
	return &DeviceStore{container: container}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Load returns the stored device, or a fresh unpaired one.
func (s *DeviceStore) Load(ctx context.Context) (session.Credentials, error) {
	device, err := s.container.GetFirstDevice(ctx)
	if err != nil {
		return session.Credentials{}, fmt.Errorf("load whatsapp device: %w", err)
	}
	return session.Credentials{Paired: device.ID != nil, Device: device}, nil
}

func (s *DeviceStore) Save(ctx context.Context, creds session.Credentials) error {
	device, ok := creds.Device.(*store.Device)
	if !ok || device == nil {
		return errNoDevice
	}
	if err := device.Save(ctx); err != nil {
		return fmt.Errorf("save whatsapp device: %w", err)
	}
	return nil
}

func (s *DeviceStore) Close() error {
	return s.container.Close()
}
