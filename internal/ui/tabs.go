package ui

import (
	"fmt"
	"sync"
)

// Tab is one named panel of a Tabs container
type Tab struct {
	ID    string
	Label string
}

// TabItem is a Tab together with whether it is the visible one
type TabItem struct {
	Tab
	Active bool
}

// Tabs shows exactly one of its panels at a time
type Tabs struct {
	mu     sync.RWMutex
	tabs   []Tab
	active string
}

// NewTabs creates a container showing defaultID first. defaultID must be one of tabs.
func NewTabs(defaultID string, tabs ...Tab) (*Tabs, error) {
	if len(tabs) == 0 {
		return nil, fmt.Errorf("at least one tab is required")
	}
	seen := make(map[string]bool, len(tabs))
	for _, t := range tabs {
		if t.ID == "" {
			return nil, fmt.Errorf("tab %q has no id", t.Label)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("duplicate tab id %q", t.ID)
		}
		seen[t.ID] = true
	}
	if !seen[defaultID] {
		return nil, fmt.Errorf("default tab %q is not one of the tabs", defaultID)
	}
	return &Tabs{
		tabs:   append([]Tab(nil), tabs...),
		active: defaultID,
	}, nil
}

// Select makes id the visible tab. Unknown ids are ignored and report false.
func (t *Tabs) Select(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tab := range t.tabs {
		if tab.ID == id {
			t.active = id
			return true
		}
	}
	return false
}

// Active returns the id of the visible tab
func (t *Tabs) Active() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// Items lists the tabs in order, marking the visible one
func (t *Tabs) Items() []TabItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	items := make([]TabItem, 0, len(t.tabs))
	for _, tab := range t.tabs {
		items = append(items, TabItem{Tab: tab, Active: tab.ID == t.active})
	}
	return items
}
