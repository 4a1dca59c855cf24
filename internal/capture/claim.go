package capture

import "sync"

// The device index is a process-wide resource, so claims are too.
var claims = struct {
	sync.Mutex
	held map[int]bool
}{held: make(map[int]bool)}

// Claim takes ownership of a device index. The returned release func is
// idempotent. A second claim on a held index fails with DeviceBusy.
func Claim(cfg DeviceConfig) (release func(), err error) {
	claims.Lock()
	defer claims.Unlock()

	if claims.held[cfg.Index] {
		return nil, &ConnectError{Kind: DeviceBusy, Device: cfg.ID()}
	}
	claims.held[cfg.Index] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			claims.Lock()
			delete(claims.held, cfg.Index)
			claims.Unlock()
		})
	}, nil
}
