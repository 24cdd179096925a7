package common

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
)

const (
	envPathStdin = "stdin"
)

// CheckEnvFilePermissions refuses env files that are readable by anyone but
// the process owner. Credentials for the portal and the SMTP relays live
// there, so a world-readable file is a hard startup error.
func CheckEnvFilePermissions(path string) error {
	if len(path) == 0 || path == envPathStdin {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("env file %v has mode %o, want 0600", path, mode)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Getuid() {
			return fmt.Errorf("env file %v is owned by uid %v, process runs as %v", path, stat.Uid, os.Getuid())
		}
	}

	return nil
}

type EnvMap struct {
	path   string
	envMap map[string]string
	lock   sync.Mutex
}

func (em *EnvMap) GetEx(key string) (string, bool) {
	if len(key) == 0 {
		return "", false
	}

	em.lock.Lock()
	defer em.lock.Unlock()

	if em.envMap == nil {
		return os.LookupEnv(key)
	}

	v, ok := em.envMap[key]
	return v, ok
}

func (em *EnvMap) Get(key string) string {
	v, ok := em.GetEx(key)
	if !ok {
		slog.Warn("Environment variable is not set", "key", key)
	}

	return v
}

func (em *EnvMap) Update() error {
	if (len(em.path) > 0) && (em.path != envPathStdin) {
		envMap, err := godotenv.Read(em.path)
		if err != nil {
			return err
		}

		em.lock.Lock()
		em.envMap = envMap
		em.lock.Unlock()
	}

	return nil
}

func NewEnvMap(path string) (*EnvMap, error) {
	var envMap map[string]string

	if path == envPathStdin {
		var err error
		envMap, err = godotenv.Parse(os.Stdin)
		if err != nil {
			return nil, err
		}
	} else if len(path) > 0 {
		var err error
		envMap, err = godotenv.Read(path)
		if err != nil {
			return nil, err
		}
	}

	return &EnvMap{envMap: envMap, path: path}, nil
}
