package swarm

import (
	"encoding/base64"
	"github.com/docker/docker/api/types/registry"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// RegistryAuth are the credentials the swarm uses to pull private stage
// images on every node.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

// Encode returns the X-Registry-Auth value the daemon expects.
func (r RegistryAuth) Encode() (string, error) {
	auth := registry.AuthConfig{
		Username:      r.Username,
		Password:      r.Password,
		ServerAddress: r.ServerAddress,
	}
	authBytes, err := json.Marshal(auth)
	if err != nil {
		return "", errors.Wrap(err, "unable to encode registry auth")
	}
	return base64.URLEncoding.EncodeToString(authBytes), nil
}
