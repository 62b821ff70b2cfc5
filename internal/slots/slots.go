// Package slots tracks execution slots: one per core, spread over hosts.
package slots

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Localhost is the address of slots that run on the scheduler's own host.
const Localhost = "localhost"

// DefaultLocalSlots is the pool size when no node file exists.
const DefaultLocalSlots = 1000

// DefaultNodeFile is the node description file name.
const DefaultNodeFile = ".config"

// Unknown is returned by Addr for slot ids the pool does not know.
const Unknown = "unknown"

// Slot is one schedulable core.
type Slot struct {
	ID   int
	Addr string
	Busy bool
}

// Pool holds every slot. Not safe for concurrent use.
type Pool struct {
	slots []Slot
}

// NewLocalPool returns n free local slots.
func NewLocalPool(n int) *Pool {
	p := &Pool{slots: make([]Slot, 0, n)}
	for i := 0; i < n; i++ {
		p.slots = append(p.slots, Slot{ID: i, Addr: Localhost})
	}
	return p
}

// Load builds a pool from the node file at path. A missing file yields
// DefaultLocalSlots local slots.
func Load(path string, logger *slog.Logger) (*Pool, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("no node file, using local slots", "path", path, "slots", DefaultLocalSlots)
		return NewLocalPool(DefaultLocalSlots), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open node file %s: %w", path, err)
	}
	defer f.Close()

	p, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse node file %s: %w", path, err)
	}
	logger.Info("node file loaded", "path", path, "slots", p.Len())
	return p, nil
}

// Parse reads "<address>\t<cores>" lines. Each host expands to one slot per
// core, numbered in file order.
func Parse(r io.Reader) (*Pool, error) {
	p := &Pool{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want <address>\\t<cores>, got %q", lineNo, line)
		}
		addr := strings.TrimSpace(fields[0])
		cores, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || cores < 0 {
			return nil, fmt.Errorf("line %d: bad core count %q", lineNo, fields[1])
		}
		for i := 0; i < cores; i++ {
			p.slots = append(p.slots, Slot{ID: len(p.slots), Addr: addr})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Len returns the number of slots.
func (p *Pool) Len() int { return len(p.slots) }

func (p *Pool) slot(id int) *Slot {
	if id < 0 || id >= len(p.slots) {
		return nil
	}
	return &p.slots[id]
}

// Addr returns the host address of slot id, or Unknown.
func (p *Pool) Addr(id int) string {
	s := p.slot(id)
	if s == nil {
		return Unknown
	}
	return s.Addr
}

// IsLocal reports whether slot id runs on this host. Unknown slots, including
// NoSlot from legacy records, run locally.
func (p *Pool) IsLocal(id int) bool {
	return IsLocalAddr(p.Addr(id))
}

// IsLocalAddr reports whether addr names this host.
func IsLocalAddr(addr string) bool {
	return addr == "" || addr == Localhost || addr == Unknown
}

// Reserve marks slot id busy. Unknown ids are ignored.
func (p *Pool) Reserve(id int) {
	if s := p.slot(id); s != nil {
		s.Busy = true
	}
}

// Release marks slot id free. Unknown ids are ignored.
func (p *Pool) Release(id int) {
	if s := p.slot(id); s != nil {
		s.Busy = false
	}
}

// IsBusy reports whether slot id is reserved.
func (p *Pool) IsBusy(id int) bool {
	s := p.slot(id)
	return s != nil && s.Busy
}

// AnyFree returns some free slot. Callers must not rely on which one.
func (p *Pool) AnyFree() (int, bool) {
	for i := range p.slots {
		if !p.slots[i].Busy {
			return p.slots[i].ID, true
		}
	}
	return 0, false
}

// Free returns the number of free slots.
func (p *Pool) Free() int {
	n := 0
	for i := range p.slots {
		if !p.slots[i].Busy {
			n++
		}
	}
	return n
}

// Hosts returns the cores per address in first-seen order.
func (p *Pool) Hosts() []HostInfo {
	var hosts []HostInfo
	idx := make(map[string]int)
	for _, s := range p.slots {
		i, ok := idx[s.Addr]
		if !ok {
			i = len(hosts)
			idx[s.Addr] = i
			hosts = append(hosts, HostInfo{Addr: s.Addr})
		}
		hosts[i].Cores++
		if s.Busy {
			hosts[i].Busy++
		}
	}
	return hosts
}

// HostInfo summarises the slots of one host.
type HostInfo struct {
	Addr  string `json:"addr" yaml:"addr"`
	Cores int    `json:"cores" yaml:"cores"`
	Busy  int    `json:"busy" yaml:"busy"`
}
