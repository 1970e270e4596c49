// Package mqtt bridges the SnapDog MQTT topic tree to the command pipeline.
//
// Inbound, the bridge subscribes to
//
//	{base}/zone/+/command/+
//	{base}/client/+/command/+
//
// resolves the feature from the topic, decodes the textual payload and sends
// the command with source "mqtt". Outbound, it is a notify.Dispatcher
// subscriber that publishes retained status topics for every notification
// whose feature is exposed on MQTT:
//
//	snapdog/zone/1/status/volume          -> 40
//	snapdog/zone/1/status/playback        -> playing
//	snapdog/zone/1/status/state           -> {"index":1,"name":"Living Room",...}
//	snapdog/client/2/status/zone          -> 1
//
// Strings are published raw; everything else is JSON encoded.
//
// Failures on either side are logged at warn level and never reach the
// sender of the original stimulus.
package mqtt
