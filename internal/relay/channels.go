package relay

import "github.com/chatrelay/internal/model"

// ChannelRegistry holds the fixed set of channels configured at process
// start. No runtime mutation: channel creation is a deployment concern.
type ChannelRegistry struct {
	order    []string
	channels map[string]model.Channel
}

func NewChannelRegistry(channels []model.Channel) *ChannelRegistry {
	r := &ChannelRegistry{
		order:    make([]string, 0, len(channels)),
		channels: make(map[string]model.Channel, len(channels)),
	}
	for _, ch := range channels {
		if _, ok := r.channels[ch.ID]; ok {
			continue
		}
		r.order = append(r.order, ch.ID)
		r.channels[ch.ID] = ch
	}
	return r
}

// List returns all channels in configuration order.
func (r *ChannelRegistry) List() []model.Channel {
	out := make([]model.Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.channels[id])
	}
	return out
}

// Get returns the channel by id, or ErrUnknownChannel.
func (r *ChannelRegistry) Get(id string) (model.Channel, error) {
	ch, ok := r.channels[id]
	if !ok {
		return model.Channel{}, ErrUnknownChannel
	}
	return ch, nil
}

// Has reports whether id names a configured channel.
func (r *ChannelRegistry) Has(id string) bool {
	_, ok := r.channels[id]
	return ok
}
