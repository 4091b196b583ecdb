package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
)

// ErrLaunch is returned when an executor could not be started. The message
// that triggered the launch stays on the queue for redelivery.
var ErrLaunch = errors.New("dispatch: executor launch failed")

// LaunchSpec names the job an executor run must process. The three fields
// become the executor's environment.
type LaunchSpec struct {
	JobID        string
	ObjectKey    string
	ObjectBucket string
}

// Launcher starts one executor run for a job and returns an opaque task
// handle recorded on the job for operator lookup.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
}

// ecsClient is the subset of the ECS API the launcher uses.
type ecsClient interface {
	RunTask(ctx context.Context, params *ecs.RunTaskInput, optFns ...func(*ecs.Options)) (*ecs.RunTaskOutput, error)
}

// Compile-time check that ECSLauncher implements Launcher.
var _ Launcher = (*ECSLauncher)(nil)

// ECSLauncherConfig holds the Fargate run parameters.
type ECSLauncherConfig struct {
	Cluster        string
	TaskDefinition string
	ContainerName  string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// ECSLauncher starts each executor as a one-shot Fargate task.
type ECSLauncher struct {
	client ecsClient
	cfg    ECSLauncherConfig
}

// NewECSLauncher creates a launcher for the given cluster and task definition.
func NewECSLauncher(client *ecs.Client, cfg ECSLauncherConfig) *ECSLauncher {
	return &ECSLauncher{client: client, cfg: cfg}
}

// newECSLauncherWithClient is the test seam.
func newECSLauncherWithClient(client ecsClient, cfg ECSLauncherConfig) *ECSLauncher {
	return &ECSLauncher{client: client, cfg: cfg}
}

// Launch runs one Fargate task with the job identity injected as container
// environment overrides. The returned handle is the task ARN.
func (l *ECSLauncher) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	assignIP := ecstypes.AssignPublicIpDisabled
	if l.cfg.AssignPublicIP {
		assignIP = ecstypes.AssignPublicIpEnabled
	}

	out, err := l.client.RunTask(ctx, &ecs.RunTaskInput{
		Cluster:        aws.String(l.cfg.Cluster),
		TaskDefinition: aws.String(l.cfg.TaskDefinition),
		LaunchType:     ecstypes.LaunchTypeFargate,
		Count:          aws.Int32(1),
		NetworkConfiguration: &ecstypes.NetworkConfiguration{
			AwsvpcConfiguration: &ecstypes.AwsVpcConfiguration{
				Subnets:        l.cfg.Subnets,
				SecurityGroups: l.cfg.SecurityGroups,
				AssignPublicIp: assignIP,
			},
		},
		Overrides: &ecstypes.TaskOverride{
			ContainerOverrides: []ecstypes.ContainerOverride{
				{
					Name: aws.String(l.cfg.ContainerName),
					Environment: []ecstypes.KeyValuePair{
						{Name: aws.String("JOB_ID"), Value: aws.String(spec.JobID)},
						{Name: aws.String("OBJECT_KEY"), Value: aws.String(spec.ObjectKey)},
						{Name: aws.String("OBJECT_BUCKET"), Value: aws.String(spec.ObjectBucket)},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: run task: %w", ErrLaunch, err)
	}
	if len(out.Tasks) == 0 {
		reason := "no task started"
		if len(out.Failures) > 0 {
			reason = aws.ToString(out.Failures[0].Reason)
		}
		return "", fmt.Errorf("%w: %s", ErrLaunch, reason)
	}
	return aws.ToString(out.Tasks[0].TaskArn), nil
}

// Compile-time check that LocalLauncher implements Launcher.
var _ Launcher = (*LocalLauncher)(nil)

// LocalLauncher runs the executor binary as a detached subprocess. Used for
// local development where there is no container scheduler.
type LocalLauncher struct {
	// ProcessorPath is the executor binary; defaults to "processor" on PATH.
	ProcessorPath string
}

// Launch starts the executor process and returns "local:<pid>".
func (l *LocalLauncher) Launch(_ context.Context, spec LaunchSpec) (string, error) {
	path := l.ProcessorPath
	if path == "" {
		path = "processor"
	}

	cmd := exec.Command(path) // #nosec G204 - operator-configured binary path
	cmd.Env = append(os.Environ(),
		"JOB_ID="+spec.JobID,
		"OBJECT_KEY="+spec.ObjectKey,
		"OBJECT_BUCKET="+spec.ObjectBucket,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start %s: %w", ErrLaunch, path, err)
	}
	pid := cmd.Process.Pid
	// Reap the child in the background so it never zombies.
	go func() { _ = cmd.Wait() }()

	return "local:" + strconv.Itoa(pid), nil
}

// envString renders a LaunchSpec for logs.
func (s LaunchSpec) String() string {
	return strings.Join([]string{s.JobID, s.ObjectBucket, s.ObjectKey}, " ")
}
