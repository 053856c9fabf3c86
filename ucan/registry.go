package ucan

const (
	defaultResource = "profile"
	defaultAction   = "read"

	// DefaultAppAction is the action requested for the per-app storage
	// capability when no override is configured.
	DefaultAppAction = "write"
)

// Registry computes the stable set of capabilities this deployment
// needs from each backend. It is a pure function of static
// configuration: the same Registry always yields the same capability
// sets and keys, across restarts and regardless of call order.
type Registry struct {
	// AppID identifies the application installation, typically the
	// sanitized host the app is served from. When set, the storage
	// backend is asked for an app-scoped capability.
	AppID string

	// AppAction is the action requested for the app-scoped storage
	// capability. Empty means DefaultAppAction.
	AppAction string

	// StorageResource / StorageAction, when both set, override the
	// app-scoped storage capability entirely.
	StorageResource string
	StorageAction   string
}

func (r Registry) appAction() string {
	if r.AppAction != "" {
		return r.AppAction
	}
	return DefaultAppAction
}

// StorageCapabilities returns the capabilities required from the sync
// storage backend.
func (r Registry) StorageCapabilities() []Capability {
	if r.StorageResource != "" && r.StorageAction != "" {
		return []Capability{{Resource: r.StorageResource, Action: r.StorageAction}}
	}
	if id := SanitizeAppID(r.AppID); id != "" {
		return []Capability{{Resource: "app:" + id, Action: r.appAction()}}
	}
	return []Capability{{Resource: defaultResource, Action: defaultAction}}
}

// RouterCapabilities returns the capabilities required from the request
// routing backend.
func (r Registry) RouterCapabilities() []Capability {
	return []Capability{{Resource: defaultResource, Action: defaultAction}}
}

// RootCapabilities is the union of every backend's requirements,
// deduplicated. A root proof must carry exactly this set to be
// considered valid for the deployment.
func (r Registry) RootCapabilities() []Capability {
	return Dedup(append(r.StorageCapabilities(), r.RouterCapabilities()...))
}

// RootCapsKey is the canonical key of RootCapabilities.
func (r Registry) RootCapsKey() string {
	return CapsKey(r.RootCapabilities())
}
