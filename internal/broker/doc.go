// Package broker bridges a publish/subscribe transport into per-subscription
// message handlers.
//
// Many live subscriptions commonly watch the same topic filter. The Bridge
// subscribes on the broker once per filter, fans each inbound message out to
// every handle registered on that filter, and unsubscribes on the broker
// when the last handle goes away.
//
// A Group collects the handles created for one client subscription so they
// can be released together:
//
//	group := bridge.NewGroup()
//	for _, topic := range topics {
//	    if _, err := group.Subscribe(topic, qos, onMessage); err != nil {
//	        _ = group.Close()
//	        return err
//	    }
//	}
//	defer group.Close()
package broker
