// Package registrar is the control plane of the gateway: it deploys unit code
// into the remote dispatch namespace and records the resulting deployment id
// in the directory.
//
// Steps, strictly in order:
//   - validate the request (no remote call is made for an invalid request)
//   - ensure the namespace exists, creating it on first use
//   - upload the code as a module script
//   - write name -> deployment id to the directory
//
// The remote upload and the directory write are not atomic. When the write
// fails the caller receives ErrDirectoryWriteFailed carrying the deployment
// id, and Repair writes the entry without redeploying.
//
// Auditing:
//   - Requests that reach the namespace backend emit exactly one event,
//     unit.register or unit.register_failed.
//   - Rejected (invalid) requests emit none.
package registrar
