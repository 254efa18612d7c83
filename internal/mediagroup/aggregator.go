package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

// Item is one photo of a Telegram album. Telegram delivers album members as
// separate messages sharing a MediaGroupID.
type Item struct {
	ChatID       int64
	MediaGroupID string
	FileID       string
	FileName     string
	MimeType     string
}

type File struct {
	FileID   string
	FileName string
	MimeType string
}

type Group struct {
	ChatID int64
	Files  []File
}

// MaxAlbumSize is the most photos Telegram puts in one album.
const MaxAlbumSize = 10

type Options struct {
	Debounce time.Duration
	// MaxFiles flushes an album as soon as it holds this many photos.
	MaxFiles int
	OnFlush  func(Group)
}

// Aggregator collects album members until no new one has arrived for the
// debounce interval, then hands the whole album to OnFlush.
type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	maxFiles int
	onFlush  func(Group)
	groups   map[string]*pendingGroup
	stopped  bool
}

type pendingGroup struct {
	group Group
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 1200 * time.Millisecond
	}

	maxFiles := opts.MaxFiles
	if maxFiles <= 0 || maxFiles > MaxAlbumSize {
		maxFiles = MaxAlbumSize
	}

	return &Aggregator{
		debounce: debounce,
		maxFiles: maxFiles,
		onFlush:  opts.OnFlush,
		groups:   make(map[string]*pendingGroup),
	}
}

func (a *Aggregator) Add(item Item) {
	if item.MediaGroupID == "" || item.FileID == "" {
		return
	}

	key := makeKey(item.ChatID, item.MediaGroupID)
	file := File{FileID: item.FileID, FileName: item.FileName, MimeType: item.MimeType}

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}

	pg, ok := a.groups[key]
	if !ok {
		pg = &pendingGroup{group: Group{ChatID: item.ChatID}}
		a.groups[key] = pg
	}
	for _, f := range pg.group.Files {
		if f.FileID == file.FileID {
			a.mu.Unlock()
			return
		}
	}
	pg.group.Files = append(pg.group.Files, file)

	if pg.timer != nil {
		pg.timer.Stop()
	}
	if len(pg.group.Files) >= a.maxFiles {
		a.mu.Unlock()
		a.flush(key)
		return
	}
	pg.timer = time.AfterFunc(a.debounce, func() {
		a.flush(key)
	})
	a.mu.Unlock()
}

// Stop drops every album still collecting. Later Adds are ignored.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for key, pg := range a.groups {
		if pg.timer != nil {
			pg.timer.Stop()
		}
		delete(a.groups, key)
	}
}

// Pending reports how many albums are still collecting.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pg, ok := a.groups[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.groups, key)
	group := pg.group
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(group)
	}
}

func makeKey(chatID int64, mediaGroupID string) string {
	return fmt.Sprintf("%d:%s", chatID, mediaGroupID)
}
