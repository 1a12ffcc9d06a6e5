package auth

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
)

// StaticValidator validates credentials against fixed token tables, the
// shape the platform issues for staging and single-node deployments. Both
// tables are read-only after construction, so Validate is safe for
// concurrent use.
type StaticValidator struct {
	bearer map[string]Identity
	device map[string]Identity
}

func NewStaticValidator(bearer, device map[string]Identity) *StaticValidator {
	v := &StaticValidator{
		bearer: make(map[string]Identity, len(bearer)),
		device: make(map[string]Identity, len(device)),
	}
	for token, identity := range bearer {
		v.bearer[token] = identity
	}
	for token, identity := range device {
		v.device[token] = identity
	}
	return v
}

// MustNewValidator builds the static validator from the auth section of the
// config file. Panics on malformed entries so a bad deploy fails at boot.
func MustNewValidator() *StaticValidator {
	return NewStaticValidator(
		mustLoadTokenTable("auth.bearer_tokens"),
		mustLoadTokenTable("auth.device_tokens"),
	)
}

type tokenEntry struct {
	Token        string `mapstructure:"token"`
	RestaurantID string `mapstructure:"restaurant_id"`
	Role         string `mapstructure:"role"`
}

func mustLoadTokenTable(key string) map[string]Identity {
	var entries []tokenEntry
	if err := viper.UnmarshalKey(key, &entries); err != nil {
		panic("error while loading " + key + ": " + err.Error())
	}

	table := make(map[string]Identity, len(entries))
	for _, entry := range entries {
		if entry.Token == "" || entry.RestaurantID == "" {
			panic("incomplete entry in " + key)
		}
		role, err := ParseRole(entry.Role)
		if err != nil {
			panic("invalid role in " + key + ": " + entry.Role)
		}
		table[entry.Token] = Identity{
			RestaurantID: entry.RestaurantID,
			Role:         role,
		}
	}
	return table
}

func (v *StaticValidator) Validate(_ context.Context, cred Credential) (Identity, error) {
	if cred.Token == "" {
		return Identity{}, ErrInvalidCredential
	}

	var table map[string]Identity
	switch cred.Kind {
	case KindBearer:
		table = v.bearer
	case KindDevice:
		table = v.device
	default:
		return Identity{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCredential, cred.Kind)
	}

	identity, ok := table[cred.Token]
	if !ok {
		return Identity{}, ErrInvalidCredential
	}
	return identity, nil
}
