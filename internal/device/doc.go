// Package device holds the data model and the transport capability surface of
// the BLE connectivity core.
//
// It defines:
//   - DeviceRecord and CharacteristicRecord, the normalized views of what the transport reports
//   - Event and Observer, the contract between the core and its consumers
//   - Transport and Handle, the asynchronous capability surface of the BLE stack
//   - The error taxonomy shared by the controllers
package device
