package memutils

// Validatable is anything that can check its own bookkeeping for consistency, such as block
// metadata. DebugValidate runs the check after every mutation in debug_pool_sim builds.
type Validatable interface {
	Validate() error
}
