package link

// stateBroadcastPeriod is the "every 60 heartbeat ticks" cadence of
// §4.7/§4.8.
const stateBroadcastPeriod = 60

// heartbeat is the single periodic tick of §4.8, driving reconnection
// attempts and the periodic state broadcast. It runs on the link's own
// goroutine, invoked either by Run's internal ticker or by an embedder
// calling Heartbeat() directly.
func (l *Link) heartbeat() {
	if !l.enabled {
		return
	}
	l.heartbeatCount++

	now := l.clock.NowMs()
	for _, p := range l.peers.all() {
		if p.hasLiveSocket() {
			continue
		}
		if p.remainingAttempts <= 0 || p.nextAttemptTime == 0 || p.nextAttemptTime > now {
			continue
		}
		if p.host == "" {
			continue
		}
		p.remainingAttempts--
		p.nextAttemptTime = 0
		l.driver.Connect(p.host, p.port, p.id)
	}

	if l.heartbeatCount%stateBroadcastPeriod == 0 && l.state == activeSelf {
		l.broadcastStateInfo()
	}
}

// scheduleReconnect implements §4.8's "On connect failure, read error, or
// remote close" action.
func (l *Link) scheduleReconnect(p *peer) {
	p.conn = nil
	if p.host == "" {
		// Never got an identity (e.g. inbound connection that dropped
		// before HELLO); nothing to reconnect to.
		l.peers.remove(p.id)
		return
	}
	p.remainingAttempts = l.cfg.ReconnectAttempts
	p.nextAttemptTime = l.clock.NowMs() + l.cfg.ReconnectInterval.Milliseconds()
}
