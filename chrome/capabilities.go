// Package chrome provides Chrome-specific options for WebDriver sessions.
package chrome

import (
	"fmt"
	"strings"

	crx3 "github.com/mediabuyerbot/go-crx3"
)

// CapabilitiesKey is the key in the top-level Capabilities map under which
// ChromeDriver expects the Chrome-specific options to be set.
const CapabilitiesKey = "goog:chromeOptions"

// Capabilities defines the Chrome-specific desired capabilities when using
// ChromeDriver. An instance of this struct is stored in the Capabilities map
// under CapabilitiesKey.
// See https://chromedriver.chromium.org/capabilities
type Capabilities struct {
	// Path is the file path to the Chrome binary to use.
	Path string `json:"binary,omitempty"`
	// Args are the command-line arguments to pass to the Chrome binary, in
	// addition to the ChromeDriver-supplied ones.
	Args []string `json:"args,omitempty"`
	// ExcludeSwitches are the command line flags that should be removed from
	// the ChromeDriver-supplied default flags. The strings included here
	// should not include a preceding '--'.
	ExcludeSwitches []string `json:"excludeSwitches,omitempty"`
	// Extensions are the list of extensions to install at startup. The
	// elements of this list should be the base-64 encoded contents of a
	// Chrome extension file (.crx). Use AddExtension to add a local file.
	Extensions []string `json:"extensions,omitempty"`
	// Prefs are the key/value pairs that are applied to the preferences of
	// the user profile in use.
	Prefs map[string]interface{} `json:"prefs,omitempty"`
	// MobileEmulation provides options for mobile emulation.
	MobileEmulation *MobileEmulation `json:"mobileEmulation,omitempty"`
	// WindowTypes is a list of window types that will appear in the list of
	// window handles.
	WindowTypes []string `json:"windowTypes,omitempty"`
	// W3C enables W3C mode, if true.
	W3C bool `json:"w3c"`
}

// MobileEmulation provides options for mobile emulation. Only DeviceName or
// both of DeviceMetrics and UserAgent may be set at once.
type MobileEmulation struct {
	// DeviceName is the name of the device to emulate, e.g. "Google Nexus 5".
	// It should not be set if DeviceMetrics and UserAgent are set.
	DeviceName string `json:"deviceName,omitempty"`
	// DeviceMetrics provides specifications of a device to emulate. It
	// should not be set if DeviceName is set.
	DeviceMetrics *DeviceMetrics `json:"deviceMetrics,omitempty"`
	// UserAgent specifies the user agent string to send to the remote web
	// server.
	UserAgent string `json:"userAgent,omitempty"`
}

// DeviceMetrics specifies device attributes for emulation.
type DeviceMetrics struct {
	// Width is the width of the screen.
	Width uint `json:"width"`
	// Height is the height of the screen.
	Height uint `json:"height"`
	// PixelRatio is the pixel ratio of the screen.
	PixelRatio float64 `json:"pixelRatio"`
	// Touch indicates whether to emulate touch events. The default is true,
	// if unset.
	Touch *bool `json:"touch,omitempty"`
}

// AddExtension causes the browser to load the packed extension file (.crx)
// at path on startup. The file contents are base64-encoded into the
// capability payload, as required by the protocol.
func (c *Capabilities) AddExtension(path string) error {
	ext := crx3.Extension(path)
	if !ext.IsCRX3() {
		return fmt.Errorf("chrome: %q is not a CRX3 extension file", path)
	}
	encoded, err := ext.Base64()
	if err != nil {
		return fmt.Errorf("chrome: encoding extension %q: %w", path, err)
	}
	c.Extensions = append(c.Extensions, string(encoded))
	return nil
}

// AddUnpackedExtension packs the extension directory at basePath into a CRX3
// file signed with a freshly generated key and causes the browser to load it
// at startup.
func (c *Capabilities) AddUnpackedExtension(basePath string) error {
	ext := crx3.Extension(strings.TrimSuffix(basePath, "/"))
	if !ext.IsDir() {
		return fmt.Errorf("chrome: %q is not an unpacked extension directory", basePath)
	}
	if err := ext.Pack(nil); err != nil {
		return fmt.Errorf("chrome: packing extension %q: %w", basePath, err)
	}
	return c.AddExtension(string(ext) + ".crx")
}
