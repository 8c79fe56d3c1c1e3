package memory

// setCriticalHook installs fn to run while the registry lock is held.
func (b *Broker) setCriticalHook(fn func()) { b.inCritical = fn }
