package cache

// Key prefixes. The facade builds every key through these helpers so that
// invalidation patterns match.
const (
	PrefixAuth          = "auth:"
	PrefixDevices       = "devices:"
	PrefixRealInfo      = "realInfo:"
	PrefixFeedingStatus = "feedingStatus:"
	PrefixControlAction = "controlAction:"
)

// AuthKey is the key of the session for an account.
func AuthKey(email string) string { return PrefixAuth + email }

// DevicesKey is the key of an account's device list.
func DevicesKey(email string) string { return PrefixDevices + email }

// RealInfoKey is the key of a device snapshot.
func RealInfoKey(deviceID string) string { return PrefixRealInfo + deviceID }

// FeedingStatusKey is the key of a device's feeding status data.
func FeedingStatusKey(deviceID string) string { return PrefixFeedingStatus + deviceID }

// ControlActionKey is the dedupe key of a control action on a device.
func ControlActionKey(action, deviceID string) string {
	return PrefixControlAction + action + ":" + deviceID
}

// FeedingDataKey is the key of one kind of feeding data on a device
// ("grain", "wet", "work", "matrix"). It shares the feeding status prefix,
// so invalidating FeedingStatusKey(id) drops it too.
func FeedingDataKey(deviceID, kind string) string {
	return FeedingStatusKey(deviceID) + ":" + kind
}
