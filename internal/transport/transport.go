package transport

// FrameSender sends encoded video frames.
type FrameSender interface {
	SendFrame(data []byte) error
}

// FrameReceiver receives encoded video frames.
type FrameReceiver interface {
	OnFrame(callback func(data []byte))
}

// ControlSender sends serialized control messages.
type ControlSender interface {
	SendControl(msg Control) error
}

// ControlReceiver receives control messages.
type ControlReceiver interface {
	OnControl(callback func(msg Control))
}
