package vsphere

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"go.uber.org/zap"

	"github.com/limiquantix/vmplacer/internal/domain"
)

// Operator performs the VM operations that follow provisioning.
type Operator struct {
	client     *vim25.Client
	datacenter string
	logger     *zap.Logger
}

// NewOperator creates an operator for VMs of the named datacenter.
func NewOperator(client *vim25.Client, datacenter string, logger *zap.Logger) *Operator {
	return &Operator{
		client:     client,
		datacenter: datacenter,
		logger:     logger.With(zap.String("component", "vsphere-operator")),
	}
}

func (o *Operator) find(ctx context.Context, name string) (*object.VirtualMachine, error) {
	finder := find.NewFinder(o.client, true)
	dc, err := finder.DatacenterOrDefault(ctx, o.datacenter)
	if err != nil {
		return nil, fmt.Errorf("find datacenter %q: %w", o.datacenter, err)
	}
	finder.SetDatacenter(dc)
	vm, err := finder.VirtualMachine(ctx, name)
	if err != nil {
		if _, ok := err.(*find.NotFoundError); ok {
			return nil, fmt.Errorf("vm %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("find vm %s: %w", name, err)
	}
	return vm, nil
}

// Refresh reloads the power state and guest IP address of vm.
func (o *Operator) Refresh(ctx context.Context, vm *domain.VM) error {
	obj, err := o.find(ctx, vm.Name)
	if err != nil {
		return err
	}
	var mvm mo.VirtualMachine
	if err := obj.Properties(ctx, obj.Reference(), []string{"summary"}, &mvm); err != nil {
		return fmt.Errorf("read vm %s: %w", vm.Name, err)
	}
	vm.PowerState = string(mvm.Summary.Runtime.PowerState)
	vm.IPAddress = ""
	if mvm.Summary.Guest != nil {
		vm.IPAddress = mvm.Summary.Guest.IpAddress
	}
	return nil
}

// PowerOn powers vm on and waits for the task to complete.
func (o *Operator) PowerOn(ctx context.Context, vm *domain.VM) error {
	obj, err := o.find(ctx, vm.Name)
	if err != nil {
		return err
	}
	task, err := obj.PowerOn(ctx)
	if err != nil {
		return fmt.Errorf("power on vm %s: %w", vm.Name, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("power on vm %s: %w", vm.Name, err)
	}
	vm.PowerState = domain.PowerStateOn
	o.logger.Info("Powered on VM", zap.String("vm", vm.Name))
	return nil
}

// SetHA sets the cluster HA override of vm. Disabling adds a restart priority
// override of "disabled"; enabling removes the override.
func (o *Operator) SetHA(ctx context.Context, vm *domain.VM, enabled bool) error {
	obj, err := o.find(ctx, vm.Name)
	if err != nil {
		return err
	}
	cluster, err := o.clusterOf(ctx, obj)
	if err != nil {
		return err
	}

	var mc mo.ClusterComputeResource
	if err := cluster.Properties(ctx, cluster.Reference(), []string{"configurationEx"}, &mc); err != nil {
		return fmt.Errorf("read cluster of vm %s: %w", vm.Name, err)
	}
	_, overridden := vmOverrides(mc)[obj.Reference().Value]

	spec := &types.ClusterConfigSpecEx{}
	switch {
	case enabled && overridden:
		spec.DasVmConfigSpec = []types.ClusterDasVmConfigSpec{{
			ArrayUpdateSpec: types.ArrayUpdateSpec{
				Operation: types.ArrayUpdateOperationRemove,
				RemoveKey: obj.Reference(),
			},
		}}
	case !enabled:
		op := types.ArrayUpdateOperationAdd
		if overridden {
			op = types.ArrayUpdateOperationEdit
		}
		spec.DasVmConfigSpec = []types.ClusterDasVmConfigSpec{{
			ArrayUpdateSpec: types.ArrayUpdateSpec{Operation: op},
			Info: &types.ClusterDasVmConfigInfo{
				Key: obj.Reference(),
				DasSettings: &types.ClusterDasVmSettings{
					RestartPriority: string(types.ClusterDasVmSettingsRestartPriorityDisabled),
				},
			},
		}}
	default:
		vm.HAEnabled = true
		return nil
	}

	task, err := cluster.Reconfigure(ctx, spec, true)
	if err != nil {
		return fmt.Errorf("set ha of vm %s: %w", vm.Name, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("set ha of vm %s: %w", vm.Name, err)
	}
	vm.HAEnabled = enabled
	o.logger.Info("Updated VM HA override", zap.String("vm", vm.Name), zap.Bool("enabled", enabled))
	return nil
}

func (o *Operator) clusterOf(ctx context.Context, obj *object.VirtualMachine) (*object.ClusterComputeResource, error) {
	host, err := obj.HostSystem(ctx)
	if err != nil {
		return nil, fmt.Errorf("host of vm %s: %w", obj.Name(), err)
	}
	var mh mo.HostSystem
	if err := host.Properties(ctx, host.Reference(), []string{"parent"}, &mh); err != nil {
		return nil, fmt.Errorf("parent of host %s: %w", host.Reference().Value, err)
	}
	if mh.Parent == nil || mh.Parent.Type != "ClusterComputeResource" {
		return nil, fmt.Errorf("%w: vm %s is not in a cluster", domain.ErrConflict, obj.Name())
	}
	return object.NewClusterComputeResource(o.client, *mh.Parent), nil
}
