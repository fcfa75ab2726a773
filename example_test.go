package gojaruntime_test

import (
	"context"
	"fmt"

	gojaruntime "github.com/joeycumines/goja-runtime"
)

// Example runs a script to completion: deferred callbacks drain before timer
// work, the exit event observes the script-chosen exit code, and teardown is
// complete by the time Run returns.
func Example() {
	platform := gojaruntime.NewPlatform()
	instance, err := gojaruntime.New(platform, gojaruntime.WithMain(`
		process.nextTick(function () { console.log('tick'); });
		setTimeout(function () { console.log('timer'); }, 0);
		process.on('exit', function (code) { console.log('exit ' + code); });
		process.exitCode = 2;
	`))
	if err != nil {
		panic(err)
	}
	defer instance.Close()

	if err := instance.Runtime().Set("console", map[string]any{
		"log": func(s string) { fmt.Println(s) },
	}); err != nil {
		panic(err)
	}

	code, err := instance.Run(context.Background())
	if err != nil {
		panic(err)
	}
	fmt.Println("code", code)

	// Output:
	// tick
	// timer
	// exit 2
	// code 2
}
