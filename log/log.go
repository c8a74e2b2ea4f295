// Package log provides logging-related capability types and constants for
// browser and driver log collection.
package log

import "time"

// Type represents a component capable of logging.
type Type string

// The valid log types.
const (
	Server      Type = "server"
	Browser     Type = "browser"
	Client      Type = "client"
	Driver      Type = "driver"
	Performance Type = "performance"
)

// Level represents a logging level of different components in the browser,
// the driver, or any intermediary WebDriver servers.
type Level string

// The valid log levels.
const (
	Off     Level = "OFF"
	Severe  Level = "SEVERE"
	Warning Level = "WARNING"
	Info    Level = "INFO"
	Debug   Level = "DEBUG"
	All     Level = "ALL"
)

// CapabilitiesKey is the key for the logging preferences entry in the JSON
// structure representing WebDriver capabilities.
//
// The W3C spec does not include logging; Chrome-family drivers accept the
// vendor-prefixed key.
const CapabilitiesKey = "goog:loggingPrefs"

// Capabilities is the map to include in the WebDriver capabilities structure
// to configure logging.
type Capabilities map[Type]Level

// Message is a log message collected from a session.
type Message struct {
	Timestamp time.Time
	Level     Level
	Message   string
}
