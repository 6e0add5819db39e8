package turn

import (
	"context"

	"github.com/teslashibe/go-nao/pkg/robot"
)

// startup sets the speech language and settles the robot at rest.
func (c *Controller) startup(ctx context.Context) {
	if c.cfg.RobotLanguage != "" {
		c.hardware("SetLanguage", c.out.SetLanguage(ctx, c.cfg.RobotLanguage))
	}
	c.hardware("GoToPosture", c.out.GoToPosture(ctx, robot.PostureStandInit, c.cfg.PostureSpeed))
	c.hardware("GoToPosture", c.out.GoToPosture(ctx, robot.PostureCrouch, c.cfg.PostureSpeed))
}

func (c *Controller) greet(ctx context.Context) {
	c.hardware("On", c.out.On(ctx, robot.LedsAll))
	c.hardware("GoToPosture", c.out.GoToPosture(ctx, robot.PostureStandInit, c.cfg.PostureSpeed))
	c.hardware("SetLifeState", c.out.SetLifeState(ctx, robot.LifeSolitary))
	c.hardware("Say", c.out.Say(ctx, c.cfg.Greeting, robot.ModeAnimated))
	c.hardware("On", c.out.On(ctx, robot.LedsEars))
}

func (c *Controller) apologize(ctx context.Context) {
	c.hardware("Say", c.out.Say(ctx, c.cfg.Apology, robot.ModeNormal))
}

func (c *Controller) showListening(ctx context.Context) {
	c.hardware("SetIntensity", c.out.SetIntensity(ctx, robot.LedsAll, 0))
	c.hardware("SetIntensity", c.out.SetIntensity(ctx, robot.LedsAllBlue, 0.9))
}

func (c *Controller) showTimeout(ctx context.Context) {
	c.hardware("SetIntensity", c.out.SetIntensity(ctx, robot.LedsAll, 0))
	c.hardware("SetIntensity", c.out.SetIntensity(ctx, robot.LedsAllRed, 0.9))
}

// shutdown turns the lights off and stands the robot back up.
func (c *Controller) shutdown(ctx context.Context) {
	c.hardware("Off", c.out.Off(ctx, robot.LedsAll))
	c.hardware("GoToPosture", c.out.GoToPosture(ctx, robot.PostureStandInit, c.cfg.PostureSpeed))
}
