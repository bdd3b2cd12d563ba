package service

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

type Registry struct {
	servicesDir string
	cache       map[string]*Service
	mu          sync.RWMutex
}

func NewRegistry(servicesDir string) *Registry {
	return &Registry{
		servicesDir: servicesDir,
		cache:       make(map[string]*Service),
	}
}

// Run loads every *.yml definition in the services directory
func (r *Registry) Run() error {
	if _, err := os.Stat(r.servicesDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(r.servicesDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	ids := make(map[int]string, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		svc, err := r.Load(name)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		if other, ok := ids[svc.ID]; ok {
			return fmt.Errorf("service id %d used by both %s and %s", svc.ID, other, name)
		}
		ids[svc.ID] = name

		slog.Debug("Service loaded", "service", name, "id", svc.ID, "enabled", svc.Settings.Enabled, "format", svc.Format)
	}

	return nil
}

func (r *Registry) Load(name string) (*Service, error) {
	file := filepath.Join(r.servicesDir, name+".yml")
	svc, err := r.parse(file)
	if err != nil {
		return nil, err
	}

	svc.Name = name
	if svc.AvatarPrefix == "" {
		svc.AvatarPrefix = cases.Title(language.Und).String(name)
	}

	if err := validate(svc); err != nil {
		return nil, fmt.Errorf("invalid service %s: %w", file, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[svc.Name] = svc

	return svc, nil
}

// Add registers a definition built in code
func (r *Registry) Add(svc *Service) error {
	if svc.Format == "" {
		svc.Format = FormatJSON
	}
	if svc.AvatarPrefix == "" {
		svc.AvatarPrefix = cases.Title(language.Und).String(svc.Name)
	}
	if err := validate(svc); err != nil {
		return fmt.Errorf("invalid service %s: %w", svc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[svc.Name] = svc
	return nil
}

func (r *Registry) Get(name string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.cache[name]
	if !ok {
		return nil, fmt.Errorf("service with name '%s' not found", name)
	}
	return svc, nil
}

func (r *Registry) GetByID(id int) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, svc := range r.cache {
		if svc.ID == id {
			return svc, nil
		}
	}
	return nil, fmt.Errorf("service with id %d not found", id)
}

// GetEnabled returns enabled services ordered by id
func (r *Registry) GetEnabled() []*Service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]*Service, 0, len(r.cache))
	for _, svc := range r.cache {
		if svc.Settings.Enabled {
			enabled = append(enabled, svc)
		}
	}

	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ID < enabled[j].ID })
	return enabled
}

func (r *Registry) GetCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Registry) parse(file string) (*Service, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var svc Service
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if svc.Format == "" {
		svc.Format = FormatJSON
	}
	if svc.Settings.Timeout == 0 {
		svc.Settings.Timeout = 30
	}

	return &svc, nil
}

func validate(svc *Service) error {
	if svc == nil {
		return fmt.Errorf("service is nil")
	}

	if svc.ID <= 0 {
		return fmt.Errorf("id must be positive")
	}

	requiredFields := map[string]string{
		"service name": svc.Name,
		"base URL":     svc.BaseURL,
		"timeline URL": svc.TimelineURL,
	}
	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	for fieldName, raw := range map[string]string{"base URL": svc.BaseURL, "timeline URL": svc.TimelineURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", fieldName)
		}
	}

	switch svc.Format {
	case FormatJSON, FormatAtom, FormatRSS:
	default:
		return fmt.Errorf("unsupported format: %s", svc.Format)
	}

	if svc.Settings.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}

	return nil
}
