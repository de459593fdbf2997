package configstore

// ConfigStore decodes a configuration document into out.
type ConfigStore interface {
	Load(out any) error
}
