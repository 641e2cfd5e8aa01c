package scenario

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/caps"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/logging"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

// ErrNotFound is returned when a scenario is neither registered nor a readable file
var ErrNotFound = errors.New("scenario not found")

// Registry caches scenarios by name for the lifetime of the process
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Scenario
	order  []string
	logger *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		byName: make(map[string]*Scenario),
		logger: logger,
	}
}

// Add registers s, replacing any scenario with the same name
func (r *Registry) Add(s *Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[s.Name()]; !ok {
		r.order = append(r.order, s.Name())
	}
	r.byName[s.Name()] = s
}

// RegisterBuiltins adds the default scenario metadata
func (r *Registry) RegisterBuiltins() {
	for _, s := range Builtins() {
		r.Add(s)
	}
}

// Get looks a scenario up by name. A path to a scenario file is loaded and cached.
func (r *Registry) Get(nameOrPath string) (*Scenario, error) {
	r.mu.RLock()
	s, ok := r.byName[nameOrPath]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	if !strings.HasSuffix(nameOrPath, "."+FileExtension) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, nameOrPath)
	}

	s, err := LoadFile(nameOrPath, "")
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byName[nameOrPath] = s
	r.mu.Unlock()
	return s, nil
}

// All returns the registered scenarios in registration order
func (r *Registry) All() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Scenario, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Select returns the named scenarios in the given order
func (r *Registry) Select(names []string) ([]*Scenario, error) {
	out := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Discover loads every scenario file found in paths. Directories are walked.
func (r *Registry) Discover(paths []string) ([]*Scenario, error) {
	var files []string
	for _, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat scenario path: %w", err)
		}
		if !st.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, "."+FileExtension) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}
	sort.Strings(files)

	var found []*Scenario
	for _, f := range files {
		s, err := LoadFile(f, "")
		if err != nil {
			r.logger.WithError(err).Warnf("Ignoring scenario %s", f)
			continue
		}
		r.Add(s)
		found = append(found, s)
	}
	return found, nil
}

// FindSpecial returns the scenarios written for one media file, named
// <media-basename>.<name>.scenario next to it.
func (r *Registry) FindSpecial(mediaFile string) ([]*Scenario, error) {
	dir := filepath.Dir(mediaFile)
	base := filepath.Base(mediaFile)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	re := regexp.MustCompile("^" + regexp.QuoteMeta(base) + `\.(.+)\.` + FileExtension + "$")

	var out []*Scenario
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()), m[1])
		if err != nil {
			r.logger.WithError(err).Warnf("Ignoring special scenario %s", e.Name())
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadFile parses the description line of a scenario file. An empty name
// is derived from the file name.
func LoadFile(path, name string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer f.Close()

	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), "."+FileExtension)
	}

	props, err := parseDescription(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	return NewFromFile(name, path, props), nil
}

func parseDescription(f *os.File) (Properties, error) {
	sc := bufio.NewScanner(f)

	var line strings.Builder
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		if line.Len() == 0 && (text == "" || strings.HasPrefix(text, "#")) {
			continue
		}
		if strings.HasSuffix(text, `\`) {
			line.WriteString(strings.TrimSuffix(text, `\`))
			line.WriteByte(' ')
			continue
		}
		line.WriteString(text)

		raw := line.String()
		line.Reset()

		st, err := caps.ParseStructure(raw)
		if err != nil {
			if strings.HasPrefix(raw, "description") || strings.HasPrefix(raw, "meta") {
				return Properties{}, err
			}
			continue
		}
		if st.Name == "description" || st.Name == "meta" {
			return propertiesFrom(st), nil
		}
	}
	if err := sc.Err(); err != nil {
		return Properties{}, err
	}
	return Properties{}, nil
}

func propertiesFrom(st *caps.Structure) Properties {
	seconds := func(name string) int64 {
		return int64(st.Float(name, 0) * float64(models.Second))
	}

	return Properties{
		Summary:             stringField(st, "summary"),
		Duration:            seconds("duration"),
		Seek:                st.Bool("seek", false),
		ReversePlayback:     st.Bool("reverse-playback", false),
		NeedsClockSync:      st.Bool("need-clock-sync", false),
		LiveContentRequired: st.Bool("live_content_required", st.Bool("live-content-required", false)),
		NeedsPreroll:        st.Bool("needs_preroll", st.Bool("needs-preroll", false)),
		HandlesStates:       st.Bool("handles-states", false),
		MinMediaDuration:    seconds("min-media-duration"),
		MinAudioTracks:      st.Int("min-audio-track", 0),
		MinVideoTracks:      st.Int("min-video-track", 0),
		MinSubtitleTracks:   st.Int("min-subtitle-track", st.Int("min-text-track", 0)),
		NeedsHTTPServer:     st.Bool("needs_http_server", st.Bool("needs-http-server", false)),
	}
}

func stringField(st *caps.Structure, name string) string {
	v, _ := st.Get(name)
	return v
}
