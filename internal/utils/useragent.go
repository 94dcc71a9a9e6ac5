package utils

import (
	ua "github.com/mssola/user_agent"
)

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, desktop
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	IsBot      bool   `json:"is_bot"`
	Raw        string `json:"raw"`
}

// ParseUserAgent parses a User-Agent string and extracts device information.
// Attached to payment audit payloads so disputes can be matched to the device
// that initiated them.
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" {
		return DeviceInfo{
			DeviceType: "unknown",
			OS:         "Unknown",
			Browser:    "Unknown",
			Raw:        userAgent,
		}
	}

	parser := ua.New(userAgent)

	info := DeviceInfo{
		Raw:   userAgent,
		IsBot: parser.Bot(),
	}

	osInfo := parser.OSInfo()
	info.OS = osInfo.Name
	if info.OS == "" {
		info.OS = "Unknown"
	} else if osInfo.Version != "" {
		info.OS = osInfo.Name + " " + osInfo.Version
	}

	browser, _ := parser.Browser()
	if browser == "" {
		browser = "Unknown"
	}
	info.Browser = browser

	if parser.Mobile() {
		info.DeviceType = "mobile"
	} else {
		info.DeviceType = "desktop"
	}

	return info
}

// IsBot checks if the user agent represents a bot/crawler
func IsBot(userAgent string) bool {
	return ua.New(userAgent).Bot()
}
