package sockets

import "sync"

type SocketPool struct {
	mutex   sync.Mutex
	sockets map[SocketID]Socket
}

func NewSocketPool() *SocketPool {
	return &SocketPool{
		sockets: make(map[SocketID]Socket),
	}
}

func (p *SocketPool) AddSocket(soc Socket) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if old, contains := p.sockets[soc.ID()]; contains && old != soc {
		_ = old.Close()
	}
	p.sockets[soc.ID()] = soc
}

func (p *SocketPool) CloseSocket(id SocketID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if old, contains := p.sockets[id]; contains {
		_ = old.Close()
		delete(p.sockets, id)
	}
}

func (p *SocketPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.sockets)
}

func (p *SocketPool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for id, conn := range p.sockets {
		_ = conn.Close()
		delete(p.sockets, id)
	}
}
