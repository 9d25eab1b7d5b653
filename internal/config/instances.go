package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

// ErrPortInUse reports that another live server has registered the port.
var ErrPortInUse = errors.New("port already in use")

// Instance is one running `joulia-live serve` process.
type Instance struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Store     string    `json:"store,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Addr returns the base URL of the instance.
func (i Instance) Addr() string {
	return fmt.Sprintf("http://%s:%d", i.Host, i.Port)
}

// Uptime returns how long the instance has been running.
func (i Instance) Uptime() time.Duration {
	return time.Since(i.StartedAt).Round(time.Second)
}

// Instances is the file-backed list of running servers. Entries whose
// process has exited are pruned on every read.
type Instances struct {
	path  string
	alive func(pid int) bool
	mu    sync.Mutex
}

// NewInstances returns the registry stored at path.
func NewInstances(path string) *Instances {
	return &Instances{path: path, alive: processAlive}
}

// OpenInstances returns the registry under Dir.
func OpenInstances() (*Instances, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return NewInstances(filepath.Join(dir, "instances.json")), nil
}

// Path returns the registry file.
func (r *Instances) Path() string {
	return r.path
}

// Live returns the running instances ordered by start time.
func (r *Instances) Live() ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLive()
}

// OnPort returns the running instance registered on port.
func (r *Instances) OnPort(port int) (Instance, bool) {
	instances, err := r.Live()
	if err != nil {
		return Instance{}, false
	}
	i := slices.IndexFunc(instances, func(inst Instance) bool { return inst.Port == port })
	if i < 0 {
		return Instance{}, false
	}
	return instances[i], true
}

// Claim registers inst unless another running process holds its port.
func (r *Instances) Claim(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, err := r.loadLive()
	if err != nil {
		return err
	}
	for _, other := range instances {
		if other.Port == inst.Port && other.PID != inst.PID {
			return fmt.Errorf("%s held by joulia-live PID %d since %s: %w",
				other.Addr(), other.PID, other.StartedAt.Format(time.RFC3339), ErrPortInUse)
		}
	}
	instances = slices.DeleteFunc(instances, func(other Instance) bool { return other.PID == inst.PID })
	return r.save(append(instances, inst))
}

// Release removes the entry of pid.
func (r *Instances) Release(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, err := r.loadLive()
	if err != nil {
		return err
	}
	return r.save(slices.DeleteFunc(instances, func(inst Instance) bool { return inst.PID == pid }))
}

func (r *Instances) loadLive() ([]Instance, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var all []Instance
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(r.path), err)
	}

	live := slices.DeleteFunc(slices.Clone(all), func(inst Instance) bool { return !r.alive(inst.PID) })
	if len(live) != len(all) {
		_ = r.save(live)
	}
	slices.SortFunc(live, func(a, b Instance) int { return a.StartedAt.Compare(b.StartedAt) })
	return live, nil
}

func (r *Instances) save(instances []Instance) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if instances == nil {
		instances = []Instance{}
	}
	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0644)
}
