package binding

// Identity is the stable name of a feature module. It is the registry key.
type Identity string

const (
	// Crypto is the post-quantum cryptography module
	Crypto Identity = "crypto"
	// Orchestration is the node orchestration module
	Orchestration Identity = "orchestration"
	// Training is the distributed training module
	Training Identity = "training"
)

func (i Identity) String() string {
	return string(i)
}
