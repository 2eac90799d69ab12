package pipeline

func (p *Pipeline) publish() {
	p.published.Add(1)
	snap := Snapshot{
		State:    p.state,
		Counters: p.Counters(),
		Latency:  p.latency.stats(),
	}
	snap.Seq = snap.Counters.Published
	if tr := p.lastTrack; tr != nil {
		snap.TrackName = tr.Name
	}
	if plane := p.plane.Load(); plane != nil {
		snap.Origin = plane.Origin()
		snap.HasOrigin = true
	}

	p.pubMu.Lock()
	p.latest = snap
	p.hasLatest = true
	for ch := range p.subs {
		select {
		case ch <- snap:
		default:
			p.snapshotDrops.Add(1)
		}
	}
	p.pubMu.Unlock()
}

// Latest returns the most recent snapshot; ok is false before the first
// completed cycle.
func (p *Pipeline) Latest() (Snapshot, bool) {
	p.pubMu.RLock()
	defer p.pubMu.RUnlock()
	return p.latest, p.hasLatest
}

// Subscribe returns a channel receiving every published snapshot. Snapshots
// are dropped for a subscriber whose buffer is full. cancel closes the
// channel.
func (p *Pipeline) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	p.pubMu.Lock()
	p.subs[ch] = struct{}{}
	p.pubMu.Unlock()

	cancel := func() {
		p.pubMu.Lock()
		defer p.pubMu.Unlock()
		if _, ok := p.subs[ch]; ok {
			delete(p.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}
