package storage

import (
	"fmt"
	"strings"
)

// DefaultTempUploadPrefix marks the staging namespace for customer uploads
// that have not yet been attached to a booking.
const DefaultTempUploadPrefix = "uploads/tmp/"

// BuildBookingAssetPath composes the permanent object key for a customer
// asset owned by a booking.
func BuildBookingAssetPath(bookingID, fileName string) (string, error) {
	id, err := validateSegment("bookingID", bookingID)
	if err != nil {
		return "", err
	}
	name, err := validateFileName(fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("bookings/%s/%s", id, name), nil
}

// IsTemporary reports whether the object path lives in the staging namespace.
func IsTemporary(objectPath, tempPrefix string) bool {
	prefix := strings.TrimSpace(tempPrefix)
	if prefix == "" {
		prefix = DefaultTempUploadPrefix
	}
	return strings.Contains(strings.TrimSpace(objectPath), prefix)
}

// FileName extracts the final path component of an object key.
func FileName(objectPath string) string {
	trimmed := strings.TrimSpace(objectPath)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
