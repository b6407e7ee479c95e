package config

// ExampleYAML is the built-in scenario: five campus nodes in Singapore, two
// of them trusted relays and one a spy on the shorter branch to the
// receiver. Positions are longitude and latitude.
const ExampleYAML = `message: "Hey, are you nervous for the presentation??"

params:
  key_size: 180
  key_length: 13
  error_rate_threshold: 10
  wait_time: 10s
  protocol: bb84
  ack: true
  spy_probability: 0.8
  path_timeout: 0s
  run_alternate: true
  abort_on_eavesdropper: false
  queue_capacity: 1024

nodes:
  - id: Ani
    role: sender
    position: {x: 103.68293320728537, y: 1.3484104}
    neighbors: [Arya]
  - id: Arya
    role: truster
    position: {x: 103.7800945, y: 1.2970694}
    neighbors: [Ani, Darren, Nayan]
  - id: Darren
    role: spier
    position: {x: 103.8266290740217, y: 1.262059}
    neighbors: [Xiufan]
  - id: Nayan
    role: truster
    position: {x: 103.92004365998248, y: 1.29616795}
    neighbors: [Arya, Xiufan]
  - id: Xiufan
    role: receiver
    position: {x: 103.96434326603818, y: 1.341603}
    neighbors: [Nayan]
`

// Example returns a fresh copy of the built-in scenario.
func Example() *Scenario {
	s, err := Parse([]byte(ExampleYAML), FormatYAML)
	if err != nil {
		panic("config: built-in example is invalid: " + err.Error())
	}
	return s
}
