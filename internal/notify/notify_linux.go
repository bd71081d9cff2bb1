//go:build linux

package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// DBus sends notifications to the freedesktop notification daemon on the
// session bus.
type DBus struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func newNative() (Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBus{
		conn: conn,
		obj:  conn.Object(notifyService, dbus.ObjectPath(notifyPath)),
	}, nil
}

// Notify logs and shows the notification.
func (d *DBus) Notify(level Level, title, body string) error {
	logNotification(level, title, body)

	icon := "dialog-information"
	urgency := byte(1)
	if level == Error {
		icon = "dialog-error"
		urgency = 2
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}

	call := d.obj.Call(notifyInterface+".Notify", 0,
		AppName,   // app_name
		uint32(0), // replaces_id
		icon,
		title,
		body,
		[]string{}, // actions
		hints,
		int32(5000), // expire_timeout ms
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}

// Close closes the bus connection.
func (d *DBus) Close() error {
	return d.conn.Close()
}
