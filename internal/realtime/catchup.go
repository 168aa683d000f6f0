package realtime

import "sort"

// catchUp is what a newly connected client is sent before live traffic:
// the latest status of each channel, recent notifications, and the
// latest frame. Not safe for concurrent use; Server guards it with
// stateMu.
type catchUp struct {
	statuses  map[string][]byte // channel name → last channel.status
	notices   [][]byte
	maxNotice int
	frame     []byte
}

func newCatchUp(maxNotice int) *catchUp {
	return &catchUp{
		statuses:  make(map[string][]byte),
		maxNotice: maxNotice,
	}
}

func (cu *catchUp) setStatus(channel string, msg []byte) {
	cu.statuses[channel] = msg
}

// addNotice keeps the newest maxNotice notifications.
func (cu *catchUp) addNotice(msg []byte) {
	cu.notices = append(cu.notices, msg)
	if over := len(cu.notices) - cu.maxNotice; over > 0 {
		cu.notices = append(cu.notices[:0:0], cu.notices[over:]...)
	}
}

func (cu *catchUp) setFrame(msg []byte) {
	cu.frame = msg
}

// messages returns the replay in send order: channel statuses sorted by
// channel name, notifications oldest first, then the frame.
func (cu *catchUp) messages() [][]byte {
	channels := make([]string, 0, len(cu.statuses))
	for name := range cu.statuses {
		channels = append(channels, name)
	}
	sort.Strings(channels)

	out := make([][]byte, 0, len(channels)+len(cu.notices)+1)
	for _, name := range channels {
		out = append(out, cu.statuses[name])
	}
	out = append(out, cu.notices...)
	if cu.frame != nil {
		out = append(out, cu.frame)
	}
	return out
}
