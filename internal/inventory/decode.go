package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
)

// inventoryPayload is the body of a gateway "inventory" response.
type inventoryPayload struct {
	GatewaySerial string `json:"gateway_serial"`
	Items         []Item `json:"items"`
}

// Decode parses an inventory payload reported by the gateway with the given
// serial.
//
// Items without a gateway serial inherit serial. Every item is validated;
// gateway items are rejected because a gateway does not list itself in its
// inventory. All problems are reported together, wrapped in ErrInvalidItem,
// and no partial result is returned.
func Decode(serial string, raw []byte) ([]Item, error) {
	var payload inventoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed inventory: %w", ErrInvalidItem, err)
	}
	if payload.GatewaySerial != "" && payload.GatewaySerial != serial {
		return nil, fmt.Errorf("%w: inventory for %q received from %q",
			ErrInvalidItem, payload.GatewaySerial, serial)
	}

	var errs []error
	seen := make(map[Key]bool, len(payload.Items))
	items := make([]Item, 0, len(payload.Items))
	for idx, it := range payload.Items {
		if it.GatewaySerial == "" {
			it.GatewaySerial = serial
		}
		if it.GatewaySerial != serial {
			errs = append(errs, fmt.Errorf("item %d: belongs to gateway %q", idx, it.GatewaySerial))
			continue
		}
		if it.Kind == KindGateway {
			errs = append(errs, fmt.Errorf("item %d: gateway items are not inventory", idx))
			continue
		}
		if err := it.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", idx, err))
			continue
		}
		if seen[it.Key()] {
			errs = append(errs, fmt.Errorf("item %d: duplicate key %s", idx, it.Key()))
			continue
		}
		seen[it.Key()] = true
		items = append(items, it)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidItem, errors.Join(errs...))
	}
	Sort(items)
	return items, nil
}

// Encode renders items in the format Decode accepts.
func Encode(serial string, items []Item) ([]byte, error) {
	return json.Marshal(inventoryPayload{GatewaySerial: serial, Items: items})
}
