package inventory

import (
	"fmt"
	"strings"
)

// Kind is the variant of an inventory item.
type Kind string

const (
	KindGateway Kind = "gateway"
	KindDevice  Kind = "device"
	KindGroup   Kind = "group"
	KindScene   Kind = "scene"
)

// EntityKinds are the kinds a gateway inventory is made of.
var EntityKinds = []Kind{KindDevice, KindGroup, KindScene}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.rank() >= 0
}

// rank orders kinds for presentation: gateway, device, group, scene.
func (k Kind) rank() int {
	switch k {
	case KindGateway:
		return 0
	case KindDevice:
		return 1
	case KindGroup:
		return 2
	case KindScene:
		return 3
	default:
		return -1
	}
}

// Plural returns the lower-case plural used in summaries ("devices").
func (k Kind) Plural() string {
	return string(k) + "s"
}

// ParseKind accepts the singular or plural form of a kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, s)
	}
	return k, nil
}

// Key is the identity of an item. Two items with equal keys are the same
// entity regardless of their metadata.
type Key struct {
	GatewaySerial string
	Kind          Kind
	ID            string
}

// String renders the key as "serial:kind:id".
func (k Key) String() string {
	return k.GatewaySerial + ":" + string(k.Kind) + ":" + k.ID
}

// ParseKey parses the String form of a key. The id may itself contain colons.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	kind := Kind(parts[1])
	if !kind.Valid() {
		return Key{}, fmt.Errorf("%w: unknown kind in %q", ErrInvalidKey, s)
	}
	return Key{GatewaySerial: parts[0], Kind: kind, ID: parts[2]}, nil
}

// ValidSerial checks that s can be used as a gateway serial. Serials appear
// in key strings and MQTT topic levels, so separators and wildcards are
// rejected.
func ValidSerial(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: empty gateway serial", ErrInvalidItem)
	}
	if strings.ContainsAny(s, ":/+#") {
		return fmt.Errorf("%w: gateway serial %q contains a reserved character", ErrInvalidItem, s)
	}
	return nil
}

// MarshalText lets keys be used as JSON strings and map keys.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Less orders keys by kind, then id (numeric-aware), then serial.
func (k Key) Less(o Key) bool {
	if k.Kind != o.Kind {
		return k.Kind.rank() < o.Kind.rank()
	}
	if k.ID != o.ID {
		return lessID(k.ID, o.ID)
	}
	return k.GatewaySerial < o.GatewaySerial
}

// GatewayInfo describes how to reach a gateway.
type GatewayInfo struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	TLS   bool   `json:"tls,omitempty"`
	Model string `json:"model,omitempty"`
}

// DeviceInfo describes a DALI control gear or sensor.
type DeviceInfo struct {
	DevType string `json:"dev_type"`
	Channel int    `json:"channel"`
	Address int    `json:"address"`
	Model   string `json:"model,omitempty"`
}

// GroupInfo describes a DALI group.
type GroupInfo struct {
	Channel int `json:"channel"`
	Group   int `json:"group"`
}

// SceneInfo describes a DALI scene.
type SceneInfo struct {
	Channel int `json:"channel"`
	Scene   int `json:"scene"`
}

// TypeInfo is the kind-specific payload of an item. Exactly one field is
// set, and it matches the item's kind.
type TypeInfo struct {
	Gateway *GatewayInfo `json:"gateway,omitempty"`
	Device  *DeviceInfo  `json:"device,omitempty"`
	Group   *GroupInfo   `json:"group,omitempty"`
	Scene   *SceneInfo   `json:"scene,omitempty"`
}

// Kind returns the kind of the populated variant. ok is false when no
// variant or more than one is set.
func (t TypeInfo) Kind() (kind Kind, ok bool) {
	n := 0
	if t.Gateway != nil {
		kind, n = KindGateway, n+1
	}
	if t.Device != nil {
		kind, n = KindDevice, n+1
	}
	if t.Group != nil {
		kind, n = KindGroup, n+1
	}
	if t.Scene != nil {
		kind, n = KindScene, n+1
	}
	if n != 1 {
		return "", false
	}
	return kind, true
}

// Equal compares two TypeInfo values structurally.
func (t TypeInfo) Equal(o TypeInfo) bool {
	return ptrEqual(t.Gateway, o.Gateway) &&
		ptrEqual(t.Device, o.Device) &&
		ptrEqual(t.Group, o.Group) &&
		ptrEqual(t.Scene, o.Scene)
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Item is one entity reported by a gateway.
type Item struct {
	Kind          Kind     `json:"kind"`
	ID            string   `json:"id"`
	GatewaySerial string   `json:"gateway_serial"`
	DisplayName   string   `json:"name"`
	TypeInfo      TypeInfo `json:"type_info"`

	// Online is advisory. It never makes an item "changed".
	Online bool `json:"online"`
}

// Key returns the identity of the item.
func (i Item) Key() Key {
	return Key{GatewaySerial: i.GatewaySerial, Kind: i.Kind, ID: i.ID}
}

// Validate checks that the item is well formed.
func (i Item) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, i.Kind)
	}
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: %s without id", ErrInvalidItem, i.Kind)
	}
	if err := ValidSerial(i.GatewaySerial); err != nil {
		return fmt.Errorf("%s %s: %w", i.Kind, i.ID, err)
	}
	infoKind, ok := i.TypeInfo.Kind()
	if !ok {
		return fmt.Errorf("%w: %s %s must carry exactly one type info", ErrInvalidItem, i.Kind, i.ID)
	}
	if infoKind != i.Kind {
		return fmt.Errorf("%w: %s %s carries %s type info", ErrInvalidItem, i.Kind, i.ID, infoKind)
	}
	return nil
}

// SameMetadata reports whether the fields that define a change (display
// name and type info) are equal.
func (i Item) SameMetadata(o Item) bool {
	return i.DisplayName == o.DisplayName && i.TypeInfo.Equal(o.TypeInfo)
}

// Label renders the item for operator-facing lists, e.g.
// "Hallway (Channel 0, Group 3)".
func (i Item) Label() string {
	name := i.DisplayName
	if name == "" {
		name = "Unnamed"
	}
	switch {
	case i.TypeInfo.Group != nil:
		return fmt.Sprintf("%s (Channel %d, Group %d)", name, i.TypeInfo.Group.Channel, i.TypeInfo.Group.Group)
	case i.TypeInfo.Scene != nil:
		return fmt.Sprintf("%s (Channel %d, Scene %d)", name, i.TypeInfo.Scene.Channel, i.TypeInfo.Scene.Scene)
	case i.TypeInfo.Gateway != nil:
		return fmt.Sprintf("%s (%s)", name, i.GatewaySerial)
	default:
		return name
	}
}
