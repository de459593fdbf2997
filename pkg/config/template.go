package config

import (
	"github.com/andrej220/pssh/pkg/config/filestore"
	"github.com/spf13/afero"
)

// Template is the starter file written by `pssh init`.
const Template = `# pssh host file. Select a table with --section, or leave it out to use
# the top-level keys below.

username = "root"
password = ""
port = 22
timeout = "10s"
hosts = ["127.0.0.1"]

[staging]
username = "deploy"
hosts = ["10.0.0.1", "10.0.0.2"]

[[staging.host]]
host = "10.0.0.3"
port = 2222
password = "secret"
`

// WriteTemplate writes Template to path with owner-only permissions.
func WriteTemplate(fs afero.Fs, path string, overwrite bool) error {
	return filestore.WriteSecureFile(fs, path, []byte(Template), overwrite)
}
