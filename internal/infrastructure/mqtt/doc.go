// Package mqtt wraps the Paho client for SnapDog's broker connection.
//
// Topic layout, relative to the configured base (default "snapdog"):
//
//	{base}/zone/{n}/command/{name}     inbound commands
//	{base}/zone/{n}/status/{name}      retained status
//	{base}/client/{n}/command/{name}
//	{base}/client/{n}/status/{name}
//	{base}/system/status               retained online/offline (LWT)
//
// Topics builds and parses these names. Mapping them to pipeline commands
// is the job of internal/bridges/mqtt.
//
// The client reconnects on its own. Subscriptions are remembered and
// replayed after every reconnect, and SetOnConnect lets the bridge
// republish retained state at the same moment. Publish refuses wildcard
// topics and QoS above 2.
//
//	c, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	t := c.Topics()
//	err = c.Subscribe(t.AllZoneCommands(), 1, func(topic string, payload []byte) error {
//	    route, ok := t.Parse(topic)
//	    ...
//	})
//	err = c.Publish(t.ZoneStatus(1, "volume"), []byte("40"), 1, true)
package mqtt
