// Package eds talks to evolution-data-server over the D-Bus session bus.
//
// The registry (Sources service) publishes every configured source as an
// object carrying its uid and a key file. The calendar factory opens a
// per-source backend object that answers S-expression queries with
// iCalendar strings.
package eds

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"edscal/internal/backend"
	appLog "edscal/internal/log"
)

const (
	sourceManagerPath = dbus.ObjectPath("/org/gnome/evolution/dataserver/SourceManager")
	calendarFactory   = dbus.ObjectPath("/org/gnome/evolution/dataserver/CalendarFactory")

	ifaceObjectManager   = "org.freedesktop.DBus.ObjectManager"
	ifaceSource          = "org.gnome.evolution.dataserver.Source"
	ifaceCalendarFactory = "org.gnome.evolution.dataserver.CalendarFactory"
	ifaceCalendar        = "org.gnome.evolution.dataserver.Calendar"
)

// Config selects the bus and service names.
type Config struct {
	// Address is a D-Bus address; empty means the session bus.
	Address         string
	SourcesService  string
	CalendarService string
	// ConnectTimeout bounds OpenCalendar + Open for one source.
	ConnectTimeout time.Duration
}

// Backend implements backend.Backend on top of one bus connection, opened on
// first use.
type Backend struct {
	cfg Config

	mu   sync.Mutex
	conn *dbus.Conn
}

func New(cfg Config) *Backend {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return "eds" }

func (b *Backend) bus() (*dbus.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil && b.conn.Connected() {
		return b.conn, nil
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if b.cfg.Address != "" {
		conn, err = dbus.Connect(b.cfg.Address)
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect to D-Bus: %v", backend.ErrUnavailable, err)
	}
	b.conn = conn
	return conn, nil
}

// Close releases the bus connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Probe checks that the registry service is running or activatable.
func (b *Backend) Probe(ctx context.Context) error {
	conn, err := b.bus()
	if err != nil {
		return err
	}
	var has bool
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, b.cfg.SourcesService).Store(&has); err != nil {
		return fmt.Errorf("%w: NameHasOwner: %v", backend.ErrUnavailable, err)
	}
	if has {
		return nil
	}
	var names []string
	if err := conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListActivatableNames", 0).Store(&names); err != nil {
		return fmt.Errorf("%w: ListActivatableNames: %v", backend.ErrUnavailable, err)
	}
	if !slices.Contains(names, b.cfg.SourcesService) {
		return fmt.Errorf("%w: %s is neither running nor activatable", backend.ErrUnavailable, b.cfg.SourcesService)
	}
	return nil
}

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Sources lists calendar sources from the registry.
func (b *Backend) Sources(ctx context.Context) ([]backend.Source, error) {
	conn, err := b.bus()
	if err != nil {
		return nil, err
	}
	var objs managedObjects
	call := conn.Object(b.cfg.SourcesService, sourceManagerPath).
		CallWithContext(ctx, ifaceObjectManager+".GetManagedObjects", 0)
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sourcesFromObjects(objs), nil
}

// sourcesFromObjects keeps calendar sources and orders them by display name.
// Objects with unreadable key files are logged and dropped.
func sourcesFromObjects(objs managedObjects) []backend.Source {
	out := make([]backend.Source, 0, len(objs))
	for path, ifaces := range objs {
		props, ok := ifaces[ifaceSource]
		if !ok {
			continue
		}
		uid := variantString(props["UID"])
		data := variantString(props["Data"])
		if uid == "" || data == "" {
			continue
		}
		sd, err := parseSourceData(data)
		if err != nil {
			appLog.Warn("skipping unreadable source", "path", string(path), "uid", uid, "err", err)
			continue
		}
		if !sd.IsCalendar {
			continue
		}
		out = append(out, backend.Source{
			UID:     uid,
			Name:    sd.DisplayName,
			Enabled: sd.Enabled,
			Parent:  sd.Parent,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].UID < out[j].UID
	})
	return out
}

func variantString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

// Connect opens the calendar for src through the factory and then opens the
// backend object, both bounded by ConnectTimeout.
func (b *Backend) Connect(ctx context.Context, src backend.Source) (backend.Client, error) {
	conn, err := b.bus()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	var objectPath, busName string
	err = conn.Object(b.cfg.CalendarService, calendarFactory).
		CallWithContext(ctx, ifaceCalendarFactory+".OpenCalendar", 0, src.UID).
		Store(&objectPath, &busName)
	if err != nil {
		return nil, fmt.Errorf("open calendar %s: %w", src.UID, err)
	}
	if objectPath == "" || busName == "" {
		return nil, fmt.Errorf("open calendar %s: factory returned no object", src.UID)
	}

	obj := conn.Object(busName, dbus.ObjectPath(objectPath))
	if call := obj.CallWithContext(ctx, ifaceCalendar+".Open", 0); call.Err != nil {
		return nil, fmt.Errorf("open backend for %s: %w", src.UID, call.Err)
	}
	appLog.Debug("calendar opened", "uid", src.UID, "bus", busName, "path", objectPath)
	return &client{uid: src.UID, obj: obj}, nil
}

type client struct {
	uid string
	obj dbus.BusObject
}

func (c *client) Query(ctx context.Context, r backend.Range) ([]string, error) {
	q := rangeQuery(r)
	appLog.Debug("query", "uid", c.uid, "sexp", q)
	var objects []string
	if err := c.obj.CallWithContext(ctx, ifaceCalendar+".GetObjectList", 0, q).Store(&objects); err != nil {
		return nil, fmt.Errorf("query %s: %w", c.uid, err)
	}
	return objects, nil
}

// Close releases the backend object. A closed bus is not an error.
func (c *client) Close() error {
	call := c.obj.Call(ifaceCalendar+".Close", dbus.FlagNoReplyExpected)
	if call.Err != nil && !errors.Is(call.Err, dbus.ErrClosed) {
		return call.Err
	}
	return nil
}
