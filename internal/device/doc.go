// Package device defines the BLE capability boundary used by the bridge.
//
// The bridge never talks to a Bluetooth stack directly. It calls a Transport
// to scan and to open a Link, and a Link to read characteristics, receive
// notifications and close the connection. The go-ble backed implementation
// lives in the goble subpackage; tests use fakes from internal/testutils.
//
// The package also carries the shared error taxonomy:
//   - ConnectionError and its sentinels for transport state failures
//   - NotFoundError for missing services or characteristics
//   - RequestError for invalid caller input
package device
