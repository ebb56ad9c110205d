package config

// serviceName scopes config, data, and secret paths for this application.
const serviceName = "fraudqa"

// ConfigBackend abstracts config storage. The default implementation is a
// flat JSON file in the XDG config directory; anything honoring the same
// key naming (section.key) can be swapped in.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}
