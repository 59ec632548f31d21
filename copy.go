package relay

// CopyStrategy decides which exchange a target receives during fan-out.
// Broadcast needs independent copies; single-path forwarding does not.
type CopyStrategy interface {
	Copy(target Target, ex *Exchange) *Exchange
}

// CopyFunc adapts a function to the CopyStrategy interface.
type CopyFunc func(target Target, ex *Exchange) *Exchange

// Copy implements CopyStrategy.
func (f CopyFunc) Copy(target Target, ex *Exchange) *Exchange { return f(target, ex) }

var (
	// ShallowCopy gives every target a new exchange with cloned headers and
	// properties and a shared body. It is the default for broadcast.
	ShallowCopy CopyStrategy = CopyFunc(func(_ Target, ex *Exchange) *Exchange { return ex.Copy() })

	// DeepCopy is ShallowCopy plus a cloned body.
	DeepCopy CopyStrategy = CopyFunc(func(_ Target, ex *Exchange) *Exchange { return ex.DeepCopy() })

	// NoCopy forwards the original exchange. Use it only when a single target
	// observes the exchange at a time.
	NoCopy CopyStrategy = CopyFunc(func(_ Target, ex *Exchange) *Exchange { return ex })
)
