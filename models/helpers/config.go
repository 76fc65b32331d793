package helpers

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

var FileNotFound error = errors.New("File not found")

type FilePath struct {
	path string
}

func NewFilePath(elems ...string) *FilePath {
	fp := new(FilePath)
	fp.path = filepath.Join(elems...)
	return fp
}

func (file *FilePath) UnmarshalText(text []byte) error {
	return file.Set(string(text))
}

func (file *FilePath) Set(s string) error {
	file.path = s
	return nil
}

func (file *FilePath) String() string {
	if file == nil {
		return ""
	}
	return file.path
}

func (file *FilePath) Exists() bool {
	if file == nil {
		return false
	}
	if _, err := os.Stat(file.path); os.IsNotExist(err) {
		return false
	}
	return true
}

func (file *FilePath) IsNull() bool {
	return file == nil || file.path == ""
}

func HomeDir() *FilePath {
	if home := os.Getenv("HOME"); home != "" {
		return NewFilePath(home)
	}
	if whoami, err := user.Current(); err == nil && whoami.HomeDir != "" {
		return NewFilePath(whoami.HomeDir)
	}
	return NewFilePath(string(os.PathSeparator))
}

// LocateDotFile returns the path of a configuration file in the user's home
// directory, whether it exists or not.
func LocateDotFile(name string) *FilePath {
	return NewFilePath(HomeDir().String(), "."+name)
}

// CheckForConfigFlag scans the command line for a -config flag before normal
// flag parsing, so the configuration file can be loaded first and the
// remaining flags can override it.
func CheckForConfigFlag() *FilePath {
	for k, opt := range os.Args {
		if len(opt) == 0 || opt[0] != '-' {
			continue
		}
		opt = strings.TrimPrefix(strings.TrimPrefix(opt, "-"), "-")
		if opt == "config" && k+1 < len(os.Args) {
			return NewFilePath(os.Args[k+1])
		}
		if strings.HasPrefix(opt, "config=") {
			return NewFilePath(strings.TrimPrefix(opt, "config="))
		}
	}
	return nil
}

// LoadConfiguration decodes a TOML file into settings, rejecting unknown
// keys.
func LoadConfiguration(file *FilePath, settings interface{}) error {
	if !file.Exists() {
		return FileNotFound
	}

	md, err := toml.DecodeFile(file.String(), settings)
	if err != nil {
		return err
	}

	if len(md.Undecoded()) > 0 {
		r := "Unrecognized configuration keys: "
		for _, v := range md.Undecoded() {
			r += v.String() + " "
		}
		return errors.New(r)
	}

	return nil
}
